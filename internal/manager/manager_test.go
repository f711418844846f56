package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"authcore.org/internal/auth"
	"authcore.org/internal/outbox"
	"authcore.org/internal/store/memstore"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func TestCreateUserHashesWithSalt(t *testing.T) {
	m := New(clock)
	rec := outbox.NewRecorder("", clock)
	u, ops, err := m.CreateUser(rec, NewUserInput{Email: "a@example.com", Username: "alice", Password: "Secret123"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" || u.Salt == "" || u.Password == "Secret123" {
		t.Fatalf("unexpected user %+v", u)
	}
	if err := auth.VerifyPassword(u.Password, "Secret123", u.Salt); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if len(ops) != 2 || ops[0].Table != outbox.TableUsers || ops[1].Table != outbox.TableLogs {
		t.Fatalf("unexpected ops %+v", ops)
	}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			t.Fatalf("invalid op: %v", err)
		}
	}
}

func TestSetPasswordRotatesSalt(t *testing.T) {
	m := New(clock)
	rec := outbox.NewRecorder("u1", clock)
	u, _, _ := m.CreateUser(rec, NewUserInput{Email: "a@example.com", Username: "alice", Password: "Secret123"})
	oldSalt := u.Salt
	ops, err := m.SetPassword(rec, &u, "Another456")
	if err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if u.Salt == oldSalt {
		t.Fatalf("salt must change")
	}
	if ops[0].Kind != outbox.KindUpdate || ops[0].Data["salt"] != u.Salt {
		t.Fatalf("unexpected update %+v", ops[0])
	}
}

func TestDeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(memstore.WithClock(clock))
	m := New(clock)
	rec := outbox.NewRecorder("admin", clock)

	var b outbox.Batch
	u, ops, _ := m.CreateUser(rec, NewUserInput{Email: "a@example.com", Username: "alice", Password: "Secret123", IsComplete: true})
	b.Add(ops...)
	_, ops = m.AddUserToGroup(rec, u.ID, auth.DefaultGroup)
	b.Add(ops...)
	_, ops = m.GrantUserPermission(rec, u.ID, auth.PermReadUser)
	b.Add(ops...)
	_, ops = m.CreateSession(rec, u.ID, now.Add(time.Hour))
	b.Add(ops...)
	b.Add(rec.On(outbox.TableChallenges).Create(outbox.Fields{"id": u.ID, "flow": auth.FlowEmail, "key": "12345", "value": "b@example.com", "created": now, "updated": now})...)
	if err := store.Process(ctx, b.Operations()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	del := m.DeleteUser(rec, u.ID)
	last := del[len(del)-2]
	if last.Kind != outbox.KindDelete || last.Table != outbox.TableUsers {
		t.Fatalf("user row must be deleted last, got %+v", last)
	}
	if err := store.Process(ctx, del); err != nil {
		t.Fatalf("Process delete: %v", err)
	}
	for _, table := range []string{outbox.TableUsers, outbox.TableUserGroups, outbox.TableUserPermissions, outbox.TableSessions, outbox.TableChallenges} {
		if rows := store.Rows(table); len(rows) != 0 {
			t.Fatalf("%s not emptied: %v", table, rows)
		}
	}
	if len(store.Rows(outbox.TableLogs)) == 0 {
		t.Fatalf("expected audit rows")
	}
}

func TestDeleteGroupCascades(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(memstore.WithClock(clock))
	m := New(clock)
	rec := outbox.NewRecorder("admin", clock)

	var b outbox.Batch
	_, ops := m.CreateGroup(rec, "staff")
	b.Add(ops...)
	_, ops = m.GrantGroupPermission(rec, "staff", auth.PermReadUser)
	b.Add(ops...)
	_, ops = m.AddUserToGroup(rec, "u1", "staff")
	b.Add(ops...)
	if err := store.Process(ctx, b.Operations()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := store.Process(ctx, m.DeleteGroup(rec, "staff")); err != nil {
		t.Fatalf("Process delete: %v", err)
	}
	if _, err := store.Groups(ctx).Find(ctx, "staff"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("group still present")
	}
	if gps, _ := store.Grants(ctx).GroupPermissions(ctx, "staff"); len(gps) != 0 {
		t.Fatalf("grants still present")
	}
	if _, err := store.Grants(ctx).UserGroup(ctx, "u1", "staff"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("membership still present")
	}
	if gps, _ := store.Grants(ctx).GroupPermissions(ctx, auth.DefaultGroup); len(gps) == 0 {
		t.Fatalf("unrelated grants removed")
	}
}

func TestDeletePermissionCascades(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(memstore.WithClock(clock))
	m := New(clock)
	rec := outbox.NewRecorder("admin", clock)

	var b outbox.Batch
	_, ops := m.CreatePermission(rec, "reports")
	b.Add(ops...)
	_, ops = m.GrantUserPermission(rec, "u1", "reports")
	b.Add(ops...)
	_, ops = m.GrantGroupPermission(rec, auth.DefaultGroup, "reports")
	b.Add(ops...)
	_ = store.Process(ctx, b.Operations())

	if err := store.Process(ctx, m.DeletePermission(rec, "reports")); err != nil {
		t.Fatalf("Process delete: %v", err)
	}
	if gps, _ := store.Grants(ctx).PermissionGroups(ctx, "reports"); len(gps) != 0 {
		t.Fatalf("group grants still present")
	}
	if ups, _ := store.Grants(ctx).UserPermissions(ctx, "u1"); len(ups) != 0 {
		t.Fatalf("user grants still present")
	}
}
