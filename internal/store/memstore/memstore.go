// Package memstore keeps every table in process memory. It serves as both the
// read store and a synchronous transaction processor for tests and demo mode.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"authcore.org/internal/auth"
	"authcore.org/internal/obs"
	"authcore.org/internal/outbox"
)

// Store holds rows per table keyed by their primary key.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string]outbox.Fields
	now    func() time.Time
	seed   bool
}

// Option configures the store.
type Option func(*Store)

// WithClock overrides the time source used for seed timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithoutSeed starts from empty tables.
func WithoutSeed() Option {
	return func(s *Store) { s.seed = false }
}

var (
	_ auth.Store       = (*Store)(nil)
	_ outbox.Processor = (*Store)(nil)
)

// New returns a store seeded with the builtin permissions and default group.
func New(opts ...Option) *Store {
	s := &Store{tables: make(map[string]map[string]outbox.Fields), now: time.Now, seed: true}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range outbox.TableNames() {
		s.tables[name] = make(map[string]outbox.Fields)
	}
	if s.seed {
		for _, op := range SeedOperations(s.now()) {
			s.apply(op)
		}
	}
	return s
}

// SeedOperations builds the create operations of the builtin catalog.
func SeedOperations(now time.Time) []outbox.Operation {
	now = now.UTC()
	var ops []outbox.Operation
	for _, p := range auth.BuiltinPermissions {
		ops = append(ops, outbox.Create(outbox.TablePermissions, outbox.Fields{
			"id": p, "is_original": true, "created": now, "updated": now,
		}))
	}
	ops = append(ops, outbox.Create(outbox.TableGroups, outbox.Fields{
		"id": auth.DefaultGroup, "is_original": true, "created": now, "updated": now,
	}))
	for _, p := range auth.DefaultGroupPermissions {
		ops = append(ops, outbox.Create(outbox.TableGroupPermissions, outbox.Fields{
			"group_id": auth.DefaultGroup, "permission_id": p, "is_original": true, "created": now, "updated": now,
		}))
	}
	return ops
}

// Process validates the whole batch, then applies it in order under one lock.
func (s *Store) Process(ctx context.Context, ops []outbox.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized := make([]outbox.Operation, len(ops))
	for i, op := range ops {
		n, err := op.Normalize()
		if err != nil {
			obs.ObserveBatch("memory", nil, err)
			return err
		}
		normalized[i] = n
	}
	s.mu.Lock()
	for _, op := range normalized {
		s.apply(op)
	}
	s.mu.Unlock()
	obs.ObserveBatch("memory", outbox.Kinds(ops), nil)
	return nil
}

func (s *Store) apply(op outbox.Operation) {
	t, _ := outbox.LookupTable(op.Table)
	rows := s.tables[op.Table]
	switch op.Kind {
	case outbox.KindCreate:
		k := rowKey(t, op.Data)
		if _, exists := rows[k]; exists {
			return
		}
		rows[k] = clone(op.Data)
	case outbox.KindUpdate:
		k := rowKey(t, op.Key)
		row, ok := rows[k]
		if !ok {
			return
		}
		for col, v := range op.Data {
			row[col] = v
		}
		if nk := rowKey(t, row); nk != k {
			delete(rows, k)
			rows[nk] = row
		}
	case outbox.KindDelete:
		delete(rows, rowKey(t, op.Key))
	case outbox.KindDeleteManyBy:
		for k, row := range rows {
			if matches(row, op.Key) {
				delete(rows, k)
			}
		}
	}
}

// Rows returns a copy of every row of table in scan order.
func (s *Store) Rows(table string) []outbox.Fields {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scan(table, nil)
}

func (s *Store) find(table string, key outbox.Fields) (outbox.Fields, bool) {
	t, err := outbox.LookupTable(table)
	if err != nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.tables[table][rowKey(t, key)]
	if !ok {
		return nil, false
	}
	return clone(row), true
}

// scan returns matching rows ordered by created, then primary key. Callers hold the lock.
func (s *Store) scan(table string, where outbox.Fields) []outbox.Fields {
	t, _ := outbox.LookupTable(table)
	var out []outbox.Fields
	for _, row := range s.tables[table] {
		if matches(row, where) {
			out = append(out, clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ci, _ := out[i]["created"].(time.Time)
		cj, _ := out[j]["created"].(time.Time)
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return rowKey(t, out[i]) < rowKey(t, out[j])
	})
	return out
}

func (s *Store) list(table string, where outbox.Fields) []outbox.Fields {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scan(table, where)
}

func (s *Store) page(table string, skip, limit int) []outbox.Fields {
	rows := s.list(table, nil)
	if skip >= len(rows) {
		return nil
	}
	rows = rows[skip:]
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func rowKey(t outbox.Table, f outbox.Fields) string {
	parts := make([]string, len(t.Key))
	for i, k := range t.Key {
		s, _ := f[k].(string)
		parts[i] = s
	}
	return strings.Join(parts, "\x00")
}

func matches(row, where outbox.Fields) bool {
	for col, want := range where {
		got := row[col]
		if gt, ok := got.(time.Time); ok {
			wt, ok := want.(time.Time)
			if !ok || !gt.Equal(wt) {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

func clone(f outbox.Fields) outbox.Fields {
	out := make(outbox.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
