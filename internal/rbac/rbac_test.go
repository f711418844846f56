package rbac

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"authcore.org/internal/auth"
)

type fakeSource struct {
	direct     map[string][]string
	membership map[string][]string
	groups     map[string][]string
	groupCalls atomic.Int32
	fail       error
}

func (f *fakeSource) UserPermissions(_ context.Context, userID string) ([]auth.UserPermission, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	var out []auth.UserPermission
	for _, p := range f.direct[userID] {
		out = append(out, auth.UserPermission{UserID: userID, PermissionID: p})
	}
	return out, nil
}

func (f *fakeSource) UserGroups(_ context.Context, userID string) ([]auth.UserGroup, error) {
	var out []auth.UserGroup
	for _, g := range f.membership[userID] {
		out = append(out, auth.UserGroup{UserID: userID, GroupID: g})
	}
	return out, nil
}

func (f *fakeSource) GroupPermissions(_ context.Context, groupID string) ([]auth.GroupPermission, error) {
	f.groupCalls.Add(1)
	var out []auth.GroupPermission
	for _, p := range f.groups[groupID] {
		out = append(out, auth.GroupPermission{GroupID: groupID, PermissionID: p})
	}
	return out, nil
}

func TestEffectivePermissionsUnion(t *testing.T) {
	src := &fakeSource{
		direct:     map[string][]string{"u1": {"read_user", "logout"}},
		membership: map[string][]string{"u1": {"normal", "staff"}},
		groups: map[string][]string{
			"normal": {"logout", "set_own_password"},
			"staff":  {"read_user", "create_user"},
		},
	}
	g, err := NewResolver(src).EffectivePermissions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	want := []string{"read_user", "logout", "set_own_password", "create_user"}
	if !slices.Equal(g.Permissions, want) {
		t.Fatalf("permissions = %v, want %v", g.Permissions, want)
	}
	if !slices.Equal(g.Groups, []string{"normal", "staff"}) {
		t.Fatalf("unexpected groups %v", g.Groups)
	}
}

func TestEffectivePermissionsEmptyUser(t *testing.T) {
	g, err := NewResolver(&fakeSource{}).EffectivePermissions(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if g.Permissions == nil || g.Groups == nil || len(g.Permissions)+len(g.Groups) != 0 {
		t.Fatalf("expected empty non-nil grants, got %+v", g)
	}
}

func TestEffectivePermissionsPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewResolver(&fakeSource{fail: boom}).EffectivePermissions(context.Background(), "u1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}

func TestAdminBypass(t *testing.T) {
	g := Grants{Permissions: []string{auth.AdminPermission}}
	if !g.HasPermission("anything_at_all") {
		t.Fatalf("admin must satisfy every permission")
	}
	if g.HasGroup("staff") {
		t.Fatalf("admin does not imply membership")
	}
	if err := Check(g, []string{"delete_user", "create_group"}, nil); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := Check(g, nil, []string{"staff"}); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for missing group, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	g := Grants{Permissions: []string{"logout"}, Groups: []string{"normal"}}
	if err := Check(g, nil, nil); err != nil {
		t.Fatalf("empty requirements must pass: %v", err)
	}
	if err := Check(g, []string{"logout"}, []string{"normal"}); err != nil {
		t.Fatalf("Check: %v", err)
	}
	err := Check(g, []string{"create_user"}, []string{"normal"})
	var e *auth.Error
	if !errors.As(err, &e) || e.Kind != auth.KindUnauthorized || e.Fields[0] != "permissions" {
		t.Fatalf("expected unauthorized on permissions, got %v", err)
	}
}

func TestCachedGrantSource(t *testing.T) {
	src := &fakeSource{
		membership: map[string][]string{"u1": {"normal"}},
		groups:     map[string][]string{"normal": {"logout"}},
	}
	cached := NewCachedGrantSource(src, 16, time.Minute)
	r := NewResolver(cached)
	for i := 0; i < 3; i++ {
		if _, err := r.EffectivePermissions(context.Background(), "u1"); err != nil {
			t.Fatalf("EffectivePermissions: %v", err)
		}
	}
	if n := src.groupCalls.Load(); n != 1 {
		t.Fatalf("expected one group lookup, got %d", n)
	}
	if NewCachedGrantSource(src, 0, time.Minute) != GrantSource(src) {
		t.Fatalf("disabled cache must return the source")
	}
}
