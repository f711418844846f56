package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"authcore.org/internal/auth"
	"authcore.org/internal/obs"
	"authcore.org/internal/outbox"
)

// Applier executes outbox operations against the database. A message is one
// transaction: either every operation lands or none does.
type Applier struct {
	db *sql.DB
}

var _ outbox.Processor = (*Applier)(nil)

// NewApplier returns an applier writing through db.
func NewApplier(db *sql.DB) *Applier {
	return &Applier{db: db}
}

// Apply runs the operations of msg in order inside one transaction.
func (a *Applier) Apply(ctx context.Context, msg outbox.Message) error {
	if err := a.apply(ctx, msg.Operations); err != nil {
		return fmt.Errorf("message %s: %w", msg.ID, err)
	}
	return nil
}

// Process applies ops synchronously. It lets the service write straight to the
// database when no queue is configured.
func (a *Applier) Process(ctx context.Context, ops []outbox.Operation) (err error) {
	defer func() { obs.ObserveBatch("postgres", outbox.Kinds(ops), err) }()
	return a.apply(ctx, ops)
}

func (a *Applier) apply(ctx context.Context, ops []outbox.Operation) error {
	stmts := make([]statement, len(ops))
	for i, op := range ops {
		n, err := op.Normalize()
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		stmts[i] = build(n)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return classify(fmt.Sprintf("operation %d (%s %s)", i, ops[i].Kind, ops[i].Table), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	return nil
}

type statement struct {
	query string
	args  []any
}

// quote makes an identifier safe to use as a column or table name. Table and
// column names come from the outbox schema, never from input.
func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// where renders an equality predicate, starting placeholders at next.
func where(f outbox.Fields, next int) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	for _, col := range outbox.SortedColumns(f) {
		if f[col] == nil {
			clauses = append(clauses, quote(col)+" is null")
			continue
		}
		clauses = append(clauses, quote(col)+" = "+placeholder(next))
		args = append(args, value(f[col]))
		next++
	}
	return strings.Join(clauses, " and "), args
}

func value(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}

func build(op outbox.Operation) statement {
	table := quote(op.Table)
	switch op.Kind {
	case outbox.KindCreate:
		cols := outbox.SortedColumns(op.Data)
		names := make([]string, len(cols))
		marks := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, col := range cols {
			names[i] = quote(col)
			marks[i] = placeholder(i + 1)
			args[i] = value(op.Data[col])
		}
		return statement{
			query: "insert into " + table + " (" + strings.Join(names, ", ") + ") values (" +
				strings.Join(marks, ", ") + ") on conflict do nothing",
			args: args,
		}
	case outbox.KindUpdate:
		cols := outbox.SortedColumns(op.Data)
		sets := make([]string, len(cols))
		args := make([]any, 0, len(cols)+len(op.Key))
		for i, col := range cols {
			sets[i] = quote(col) + " = " + placeholder(i+1)
			args = append(args, value(op.Data[col]))
		}
		pred, keyArgs := where(op.Key, len(cols)+1)
		return statement{
			query: "update " + table + " set " + strings.Join(sets, ", ") + " where " + pred,
			args:  append(args, keyArgs...),
		}
	case outbox.KindDelete:
		pred, args := where(op.Key, 1)
		return statement{query: "delete from " + table + " where " + pred, args: args}
	default:
		pred, args := where(op.Key, 1)
		return statement{query: "delete from " + table + " where " + pred, args: args}
	}
}

// DeleteExpiredSessions removes sessions whose refresh window ended before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expirated < $1`, now.UTC())
	if err != nil {
		return 0, classify("delete expired sessions", err)
	}
	return res.RowsAffected()
}

// DeleteStaleChallenges removes password and email challenges last issued
// before cutoff. Signup challenges stay: they are the only way to finish a signup.
func (s *Store) DeleteStaleChallenges(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from randoms where flow <> $1 and updated < $2`, auth.FlowSignup, cutoff.UTC())
	if err != nil {
		return 0, classify("delete stale challenges", err)
	}
	return res.RowsAffected()
}

// Cleanup runs both purges and logs what they removed.
func (s *Store) Cleanup(ctx context.Context, now time.Time, retention time.Duration) error {
	sessions, err := s.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return err
	}
	challenges, err := s.DeleteStaleChallenges(ctx, now.Add(-retention))
	if err != nil {
		return err
	}
	obs.Component("pg", "adapter").WithFields(logrus.Fields{
		"event":      "cleanup_done",
		"sessions":   sessions,
		"challenges": challenges,
	}).Info("expired rows removed")
	return nil
}
