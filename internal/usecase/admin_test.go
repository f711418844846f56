package usecase

import (
	"context"
	"slices"
	"testing"

	"authcore.org/internal/auth"
	"authcore.org/internal/challenge"
	"authcore.org/internal/config"
	"authcore.org/internal/outbox"
	"authcore.org/internal/rbac"
	"authcore.org/internal/token"
)

var admin = auth.Caller{UserID: "admin-1", SessionID: "s-admin"}

func countWhere(rows []outbox.Fields, col string, val any) int {
	n := 0
	for _, r := range rows {
		if r[col] == val {
			n++
		}
	}
	return n
}

func TestAdminCreateUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	complete, err := h.svc.CreateUser(ctx, admin, CreateUserInput{Email: "c@x.com", Username: "complete1", Password: testPassword, IsComplete: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if len(h.sent.Sent) != 0 {
		t.Fatal("complete users get no signup code")
	}
	if _, err := h.svc.Authenticate(ctx, AuthenticateInput{Email: "c@x.com", Password: testPassword}); err != nil {
		t.Fatalf("Authenticate pre-completed user: %v", err)
	}

	if _, err := h.svc.CreateUser(ctx, admin, CreateUserInput{Email: "i@x.com", Username: "pending1", Password: testPassword}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if job, ok := h.sent.Last(); !ok || job.Email != "i@x.com" {
		t.Fatalf("expected signup code for incomplete user, got %+v", job)
	}

	_, err = h.svc.CreateUser(ctx, admin, CreateUserInput{Email: "c@x.com", Username: "again1", Password: testPassword})
	expectKind(t, err, auth.ErrAlreadyExists)

	logs := h.store.Rows(outbox.TableLogs)
	if countWhere(logs, "user_id", admin.UserID) == 0 {
		t.Fatal("audit rows should name the acting admin")
	}

	got, err := h.svc.GetUser(ctx, complete.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Email != "c@x.com" || !got.IsComplete {
		t.Fatalf("unexpected user %+v", got)
	}
	_, err = h.svc.GetUser(ctx, "missing")
	expectKind(t, err, auth.ErrNotFound)
}

func TestAdminListUsersPaging(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, email := range []string{"a1@x.com", "a2@x.com", "a3@x.com"} {
		if _, err := h.svc.CreateUser(ctx, admin, CreateUserInput{Email: email, Username: "someone", Password: testPassword, IsComplete: true}); err != nil {
			t.Fatalf("CreateUser %s: %v", email, err)
		}
	}
	page, err := h.svc.ListUsers(ctx, 1, 5)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 users, got %d", len(page))
	}
	_, err = h.svc.ListUsers(ctx, -1, 5)
	expectKind(t, err, auth.ErrValidation)
	_, err = h.svc.ListUsers(ctx, 0, -1)
	expectKind(t, err, auth.ErrValidation)
}

func TestAdminUpdateUserCompletesSignup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.svc.Signup(ctx, SignupInput{Email: testEmail, Username: testUsername, Password: testPassword})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	complete := true
	if _, err := h.svc.UpdateUser(ctx, admin, UpdateUserInput{ID: res.ID, IsComplete: &complete}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if rows := h.store.Rows(outbox.TableChallenges); len(rows) != 0 {
		t.Fatalf("signup code should be dropped, got %v", rows)
	}
	if _, err := h.svc.Authenticate(ctx, AuthenticateInput{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	_, err = h.svc.UpdateUser(ctx, admin, UpdateUserInput{ID: res.ID})
	expectKind(t, err, auth.ErrValidation)
	name := "x"
	_, err = h.svc.UpdateUser(ctx, admin, UpdateUserInput{ID: res.ID, Username: &name})
	expectKind(t, err, auth.ErrValidation)
	name = "renamed1"
	_, err = h.svc.UpdateUser(ctx, admin, UpdateUserInput{ID: "missing", Username: &name})
	expectKind(t, err, auth.ErrNotFound)
}

func TestAdminDeleteUserCascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, _ := h.signedUp(t)
	if _, err := h.svc.GrantPermissionToUser(ctx, admin, UserPermissionInput{UserID: res.ID, PermissionID: auth.PermReadUser}); err != nil {
		t.Fatalf("GrantPermissionToUser: %v", err)
	}
	if _, err := h.svc.ForgetPassword(ctx, testEmail); err != nil {
		t.Fatalf("ForgetPassword: %v", err)
	}

	if _, err := h.svc.DeleteUser(ctx, admin, res.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	for _, table := range []string{outbox.TableUsers, outbox.TableUserPermissions, outbox.TableUserGroups, outbox.TableSessions, outbox.TableChallenges} {
		if rows := h.store.Rows(table); len(rows) != 0 {
			t.Fatalf("%s not cleaned: %v", table, rows)
		}
	}
	_, err := h.svc.DeleteUser(ctx, admin, res.ID)
	expectKind(t, err, auth.ErrNotFound)
}

func TestAdminPermissionsAndGroups(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.DeleteGroup(ctx, admin, auth.DefaultGroup)
	expectKind(t, err, auth.ErrProtectedRecord)
	_, err = h.svc.DeletePermission(ctx, admin, auth.PermLogout)
	expectKind(t, err, auth.ErrProtectedRecord)
	_, err = h.svc.RevokePermissionFromGroup(ctx, admin, GroupPermissionInput{GroupID: auth.DefaultGroup, PermissionID: auth.PermLogout})
	expectKind(t, err, auth.ErrProtectedRecord)

	if _, err := h.svc.CreatePermission(ctx, admin, "read_reports"); err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	_, err = h.svc.CreatePermission(ctx, admin, "read_reports")
	expectKind(t, err, auth.ErrAlreadyExists)
	if _, err := h.svc.CreateGroup(ctx, admin, "staff"); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, err := h.svc.GrantPermissionToGroup(ctx, admin, GroupPermissionInput{GroupID: "staff", PermissionID: "read_reports"}); err != nil {
		t.Fatalf("GrantPermissionToGroup: %v", err)
	}
	_, err = h.svc.GrantPermissionToGroup(ctx, admin, GroupPermissionInput{GroupID: "staff", PermissionID: "read_reports"})
	expectKind(t, err, auth.ErrAlreadyExists)

	res, _ := h.signedUp(t)
	if _, err := h.svc.AddUserToGroup(ctx, admin, UserGroupInput{UserID: res.ID, GroupID: "staff"}); err != nil {
		t.Fatalf("AddUserToGroup: %v", err)
	}
	pair, err := h.svc.Authenticate(ctx, AuthenticateInput{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := h.svc.CheckCapability(ctx, CapabilityInput{AccessToken: pair.AccessToken, Permissions: []string{"read_reports"}, Groups: []string{"staff"}}); err != nil {
		t.Fatalf("group grant not in token: %v", err)
	}

	perm, err := h.svc.GetPermission(ctx, "read_reports")
	if err != nil || len(perm.Groups) != 1 || perm.Groups[0] != "staff" {
		t.Fatalf("GetPermission: %+v, %v", perm, err)
	}
	group, err := h.svc.GetGroup(ctx, "staff")
	if err != nil || len(group.Permissions) != 1 {
		t.Fatalf("GetGroup: %+v, %v", group, err)
	}

	if _, err := h.svc.DeleteGroup(ctx, admin, "staff"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if n := countWhere(h.store.Rows(outbox.TableUserGroups), "group_id", "staff"); n != 0 {
		t.Fatalf("memberships left: %d", n)
	}
	if n := countWhere(h.store.Rows(outbox.TableGroupPermissions), "group_id", "staff"); n != 0 {
		t.Fatalf("group grants left: %d", n)
	}
	if _, err := h.svc.DeletePermission(ctx, admin, "read_reports"); err != nil {
		t.Fatalf("DeletePermission: %v", err)
	}
	_, err = h.svc.GetPermission(ctx, "read_reports")
	expectKind(t, err, auth.ErrNotFound)
}

func TestAdminGrantChecksOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, _ := h.signedUp(t)

	_, err := h.svc.GrantPermissionToUser(ctx, admin, UserPermissionInput{UserID: "missing", PermissionID: "missing"})
	expectKind(t, err, auth.ErrNotFound)
	if ae := err.(*auth.Error); ae.Fields[0] != "user_id" {
		t.Fatalf("user is checked first, got %v", ae.Fields)
	}
	_, err = h.svc.RevokePermissionFromUser(ctx, admin, UserPermissionInput{UserID: res.ID, PermissionID: auth.PermReadUser})
	expectKind(t, err, auth.ErrNotFound)
	_, err = h.svc.AddUserToGroup(ctx, admin, UserGroupInput{UserID: res.ID, GroupID: auth.DefaultGroup})
	expectKind(t, err, auth.ErrAlreadyExists)
	if _, err := h.svc.RemoveUserFromGroup(ctx, admin, UserGroupInput{UserID: res.ID, GroupID: auth.DefaultGroup}); err != nil {
		t.Fatalf("RemoveUserFromGroup: %v", err)
	}
	_, err = h.svc.RemoveUserFromGroup(ctx, admin, UserGroupInput{UserID: res.ID, GroupID: auth.DefaultGroup})
	expectKind(t, err, auth.ErrNotFound)
}

func TestAdminRemoveSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, pair := h.signedUp(t)
	if _, err := h.svc.Authenticate(ctx, AuthenticateInput{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	caller := h.caller(t, pair)

	_, err := h.svc.RemoveSessions(ctx, admin, RemoveSessionsInput{UserID: res.ID, SessionID: "nope"})
	expectKind(t, err, auth.ErrNotFound)
	if _, err := h.svc.RemoveSessions(ctx, admin, RemoveSessionsInput{UserID: res.ID, SessionID: caller.SessionID}); err != nil {
		t.Fatalf("RemoveSessions one: %v", err)
	}
	if n := len(h.store.Rows(outbox.TableSessions)); n != 1 {
		t.Fatalf("expected 1 session left, got %d", n)
	}
	if _, err := h.svc.RemoveSessions(ctx, admin, RemoveSessionsInput{UserID: res.ID}); err != nil {
		t.Fatalf("RemoveSessions all: %v", err)
	}
	if n := len(h.store.Rows(outbox.TableSessions)); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}
	_, err = h.svc.RemoveSessions(ctx, admin, RemoveSessionsInput{UserID: "missing"})
	expectKind(t, err, auth.ErrNotFound)
}

func TestGroupRevocationReachesNextLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signedUp(t)

	// Wire the resolver the way cmd/authd does with the default configuration.
	cache := config.Default().Cache
	challenges, err := challenge.New(h.store, challenge.WithFixedCode(testCode), challenge.WithClock(h.clock.now))
	if err != nil {
		t.Fatalf("challenge.New: %v", err)
	}
	grants := rbac.NewCachedGrantSource(h.store.Grants(ctx), cache.GroupSize, cache.GroupTTL)
	svc, err := New(h.store, h.store, h.tokens, challenges, WithClock(h.clock.now), WithResolver(rbac.NewResolver(grants)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	permissions := func() []string {
		t.Helper()
		pair, err := svc.Authenticate(ctx, AuthenticateInput{Email: testEmail, Password: testPassword})
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		claims, err := h.tokens.Validate(pair.AccessToken, token.KindAccess)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		return claims.Permissions
	}

	if _, err := svc.CreatePermission(ctx, admin, "read_reports"); err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	grant := GroupPermissionInput{GroupID: auth.DefaultGroup, PermissionID: "read_reports"}
	if _, err := svc.GrantPermissionToGroup(ctx, admin, grant); err != nil {
		t.Fatalf("GrantPermissionToGroup: %v", err)
	}
	if !slices.Contains(permissions(), "read_reports") {
		t.Fatal("granted permission missing from new token")
	}

	if _, err := svc.RevokePermissionFromGroup(ctx, admin, grant); err != nil {
		t.Fatalf("RevokePermissionFromGroup: %v", err)
	}
	if slices.Contains(permissions(), "read_reports") {
		t.Fatal("revoked permission still present in new token")
	}
}
