package outbox

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidOperation marks an operation that does not fit its table.
var ErrInvalidOperation = errors.New("outbox: invalid operation")

// ColumnType is the storage type of a column.
type ColumnType int

const (
	Text ColumnType = iota
	Bool
	Timestamp
)

// Column describes one column.
type Column struct {
	Type     ColumnType
	Nullable bool
}

// Table describes the columns an operation may touch and its primary key.
type Table struct {
	Name    string
	Key     []string
	Columns map[string]Column
}

// Table names.
const (
	TableUsers            = "users"
	TablePermissions      = "permissions"
	TableGroups           = "groups"
	TableUserPermissions  = "user_permissions"
	TableUserGroups       = "user_groups"
	TableGroupPermissions = "group_permissions"
	TableSessions         = "sessions"
	TableChallenges       = "randoms"
	TableLogs             = "logs"
)

func stamped(cols map[string]Column) map[string]Column {
	cols["created"] = Column{Type: Timestamp}
	cols["updated"] = Column{Type: Timestamp}
	return cols
}

var tables = map[string]Table{
	TableUsers: {Name: TableUsers, Key: []string{"id"}, Columns: stamped(map[string]Column{
		"id": {}, "email": {}, "username": {}, "password": {}, "salt": {}, "is_complete": {Type: Bool},
	})},
	TablePermissions: {Name: TablePermissions, Key: []string{"id"}, Columns: stamped(map[string]Column{
		"id": {}, "is_original": {Type: Bool},
	})},
	TableGroups: {Name: TableGroups, Key: []string{"id"}, Columns: stamped(map[string]Column{
		"id": {}, "is_original": {Type: Bool},
	})},
	TableUserPermissions: {Name: TableUserPermissions, Key: []string{"user_id", "permission_id"}, Columns: stamped(map[string]Column{
		"user_id": {}, "permission_id": {},
	})},
	TableUserGroups: {Name: TableUserGroups, Key: []string{"user_id", "group_id"}, Columns: stamped(map[string]Column{
		"user_id": {}, "group_id": {},
	})},
	TableGroupPermissions: {Name: TableGroupPermissions, Key: []string{"group_id", "permission_id"}, Columns: stamped(map[string]Column{
		"group_id": {}, "permission_id": {}, "is_original": {Type: Bool},
	})},
	TableSessions: {Name: TableSessions, Key: []string{"user_id", "session_id"}, Columns: stamped(map[string]Column{
		"user_id": {}, "session_id": {}, "expirated": {Type: Timestamp},
	})},
	TableChallenges: {Name: TableChallenges, Key: []string{"id", "flow"}, Columns: stamped(map[string]Column{
		"id": {}, "flow": {}, "key": {}, "value": {},
	})},
	TableLogs: {Name: TableLogs, Key: []string{"id"}, Columns: stamped(map[string]Column{
		"id": {}, "user_id": {Nullable: true}, "object_type": {}, "object_id": {}, "action": {}, "message": {},
	})},
}

// LookupTable returns the schema of a known table.
func LookupTable(name string) (Table, error) {
	t, ok := tables[name]
	if !ok {
		return Table{}, fmt.Errorf("%w: unknown table %q", ErrInvalidOperation, name)
	}
	return t, nil
}

// TableNames lists every known table in a stable order.
func TableNames() []string {
	out := make([]string, 0, len(tables))
	for name := range tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// KeyOf extracts the primary key columns from a row.
func (t Table) KeyOf(row Fields) Fields {
	key := make(Fields, len(t.Key))
	for _, k := range t.Key {
		key[k] = row[k]
	}
	return key
}

// SortedColumns returns the column names of f in a stable order.
func SortedColumns(f Fields) []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate checks that the operation fits its table.
func (op Operation) Validate() error {
	_, err := op.Normalize()
	return err
}

// Normalize validates the operation and returns a copy whose values carry
// their column types, so JSON-decoded strings become times again.
func (op Operation) Normalize() (Operation, error) {
	t, err := LookupTable(op.Table)
	if err != nil {
		return Operation{}, err
	}
	out := Operation{Kind: op.Kind, Table: op.Table}
	switch op.Kind {
	case KindCreate:
		if len(op.Key) > 0 {
			return Operation{}, fmt.Errorf("%w: create on %s carries a key", ErrInvalidOperation, t.Name)
		}
		if out.Data, err = t.coerce(op.Data); err != nil {
			return Operation{}, err
		}
		for _, k := range t.Key {
			if out.Data[k] == nil {
				return Operation{}, fmt.Errorf("%w: create on %s is missing key column %s", ErrInvalidOperation, t.Name, k)
			}
		}
	case KindUpdate:
		if out.Key, err = t.exactKey(op.Key); err != nil {
			return Operation{}, err
		}
		if out.Data, err = t.coerce(op.Data); err != nil {
			return Operation{}, err
		}
	case KindDelete:
		if len(op.Data) > 0 {
			return Operation{}, fmt.Errorf("%w: delete on %s carries data", ErrInvalidOperation, t.Name)
		}
		if out.Key, err = t.exactKey(op.Key); err != nil {
			return Operation{}, err
		}
	case KindDeleteManyBy:
		if len(op.Data) > 0 {
			return Operation{}, fmt.Errorf("%w: delete_many_by on %s carries data", ErrInvalidOperation, t.Name)
		}
		if out.Key, err = t.coerce(op.Key); err != nil {
			return Operation{}, err
		}
	default:
		return Operation{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	return out, nil
}

func (t Table) exactKey(key Fields) (Fields, error) {
	if len(key) != len(t.Key) {
		return nil, fmt.Errorf("%w: %s key must be %v", ErrInvalidOperation, t.Name, t.Key)
	}
	out, err := t.coerce(key)
	if err != nil {
		return nil, err
	}
	for _, k := range t.Key {
		if out[k] == nil {
			return nil, fmt.Errorf("%w: %s key must be %v", ErrInvalidOperation, t.Name, t.Key)
		}
	}
	return out, nil
}

func (t Table) coerce(in Fields) (Fields, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one column", ErrInvalidOperation, t.Name)
	}
	out := make(Fields, len(in))
	for name, v := range in {
		col, ok := t.Columns[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %s.%s", ErrInvalidOperation, t.Name, name)
		}
		cv, err := coerceValue(col, v)
		if err != nil {
			return nil, fmt.Errorf("%w: column %s.%s: %v", ErrInvalidOperation, t.Name, name, err)
		}
		out[name] = cv
	}
	return out, nil
}

func coerceValue(col Column, v any) (any, error) {
	if v == nil {
		if col.Nullable {
			return nil, nil
		}
		return nil, errors.New("null value")
	}
	switch col.Type {
	case Text:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected text, got %T", v)
		}
		return s, nil
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case Timestamp:
		switch tv := v.(type) {
		case time.Time:
			return tv.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, tv)
			if err != nil {
				return nil, err
			}
			return parsed.UTC(), nil
		default:
			return nil, fmt.Errorf("expected timestamp, got %T", v)
		}
	}
	return nil, fmt.Errorf("unsupported column type %d", col.Type)
}
