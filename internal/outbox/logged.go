package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"authcore.org/internal/ids"
)

var redactedColumns = map[string]bool{
	"password": true,
	"salt":     true,
	"key":      true,
}

const redacted = "********"

// Audit log actions.
const (
	ActionCreate     = "C"
	ActionUpdate     = "U"
	ActionDelete     = "D"
	ActionDeleteMany = "DM"
)

// Recorder builds the audit-log row that accompanies every write.
// UserID is the acting user, empty for anonymous flows.
type Recorder struct {
	UserID string
	Now    func() time.Time
}

// NewRecorder returns a recorder for actor using now as its clock.
func NewRecorder(actor string, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{UserID: actor, Now: now}
}

// As returns a copy of the recorder acting for another user.
func (r *Recorder) As(actor string) *Recorder {
	return &Recorder{UserID: actor, Now: r.Now}
}

// Record returns the create operation of one audit-log row.
func (r *Recorder) Record(table, action string, objectID, message Fields) Operation {
	now := r.Now().UTC()
	var actor any
	if r.UserID != "" {
		actor = r.UserID
	}
	return Create(TableLogs, Fields{
		"id":          ids.NewAt(now),
		"user_id":     actor,
		"object_type": table,
		"object_id":   auditJSON(objectID),
		"action":      action,
		"message":     auditJSON(message),
		"created":     now,
		"updated":     now,
	})
}

func auditJSON(f Fields) string {
	flat := make(map[string]any, len(f))
	for k, v := range f {
		if redactedColumns[k] {
			flat[k] = redacted
			continue
		}
		flat[k] = scalar(v)
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func scalar(v any) any {
	switch tv := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return tv
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(tv)
	}
}

// Logged builds operations on one table together with their audit rows.
type Logged struct {
	Table    string
	Recorder *Recorder
}

// On returns the logged helper for table.
func (r *Recorder) On(table string) Logged {
	return Logged{Table: table, Recorder: r}
}

// Create inserts row and records action C.
func (l Logged) Create(row Fields) []Operation {
	key := row
	if t, err := LookupTable(l.Table); err == nil {
		key = t.KeyOf(row)
	}
	return []Operation{
		Create(l.Table, row),
		l.Recorder.Record(l.Table, ActionCreate, key, row),
	}
}

// Update changes the row addressed by key and records action U.
func (l Logged) Update(key, data Fields) []Operation {
	return []Operation{
		Update(l.Table, key, data),
		l.Recorder.Record(l.Table, ActionUpdate, key, data),
	}
}

// Delete removes the row addressed by key and records action D.
func (l Logged) Delete(key Fields) []Operation {
	return []Operation{
		Delete(l.Table, key),
		l.Recorder.Record(l.Table, ActionDelete, key, Fields{}),
	}
}

// DeleteManyBy removes matching rows and records action DM.
func (l Logged) DeleteManyBy(where Fields) []Operation {
	return []Operation{
		DeleteManyBy(l.Table, where),
		l.Recorder.Record(l.Table, ActionDeleteMany, where, where),
	}
}

// Batch accumulates the operations of one request.
type Batch struct {
	ops []Operation
}

// Add appends operations in order.
func (b *Batch) Add(ops ...Operation) {
	b.ops = append(b.ops, ops...)
}

// Operations returns the accumulated operations.
func (b *Batch) Operations() []Operation {
	return b.ops
}

// Len reports the number of operations.
func (b *Batch) Len() int {
	return len(b.ops)
}
