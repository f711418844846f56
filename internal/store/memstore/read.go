package memstore

import (
	"context"
	"time"

	"authcore.org/internal/auth"
	"authcore.org/internal/outbox"
)

func (s *Store) Users(context.Context) auth.UserStore             { return userStore{s} }
func (s *Store) Permissions(context.Context) auth.PermissionStore { return permissionStore{s} }
func (s *Store) Groups(context.Context) auth.GroupStore           { return groupStore{s} }
func (s *Store) Grants(context.Context) auth.GrantStore           { return grantStore{s} }
func (s *Store) Sessions(context.Context) auth.SessionStore       { return sessionStore{s} }
func (s *Store) Challenges(context.Context) auth.ChallengeStore   { return challengeStore{s} }

type userStore struct{ s *Store }

func (u userStore) Find(_ context.Context, id string) (*auth.User, error) {
	row, ok := u.s.find(outbox.TableUsers, outbox.Fields{"id": id})
	if !ok {
		return nil, auth.ErrNotFound
	}
	return toUser(row), nil
}

func (u userStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	rows := u.s.list(outbox.TableUsers, outbox.Fields{"email": email})
	if len(rows) == 0 {
		return nil, auth.ErrNotFound
	}
	return toUser(rows[0]), nil
}

func (u userStore) List(_ context.Context, skip, limit int) ([]*auth.User, error) {
	rows := u.s.page(outbox.TableUsers, skip, limit)
	out := make([]*auth.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, toUser(row))
	}
	return out, nil
}

type permissionStore struct{ s *Store }

func (p permissionStore) Find(_ context.Context, id string) (*auth.Permission, error) {
	row, ok := p.s.find(outbox.TablePermissions, outbox.Fields{"id": id})
	if !ok {
		return nil, auth.ErrNotFound
	}
	return toPermission(row), nil
}

func (p permissionStore) List(_ context.Context, skip, limit int) ([]*auth.Permission, error) {
	rows := p.s.page(outbox.TablePermissions, skip, limit)
	out := make([]*auth.Permission, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPermission(row))
	}
	return out, nil
}

type groupStore struct{ s *Store }

func (g groupStore) Find(_ context.Context, id string) (*auth.Group, error) {
	row, ok := g.s.find(outbox.TableGroups, outbox.Fields{"id": id})
	if !ok {
		return nil, auth.ErrNotFound
	}
	return toGroup(row), nil
}

func (g groupStore) List(_ context.Context, skip, limit int) ([]*auth.Group, error) {
	rows := g.s.page(outbox.TableGroups, skip, limit)
	out := make([]*auth.Group, 0, len(rows))
	for _, row := range rows {
		out = append(out, toGroup(row))
	}
	return out, nil
}

type grantStore struct{ s *Store }

func (g grantStore) UserPermission(_ context.Context, userID, permissionID string) (*auth.UserPermission, error) {
	row, ok := g.s.find(outbox.TableUserPermissions, outbox.Fields{"user_id": userID, "permission_id": permissionID})
	if !ok {
		return nil, auth.ErrNotFound
	}
	up := toUserPermission(row)
	return &up, nil
}

func (g grantStore) UserPermissions(_ context.Context, userID string) ([]auth.UserPermission, error) {
	rows := g.s.list(outbox.TableUserPermissions, outbox.Fields{"user_id": userID})
	out := make([]auth.UserPermission, 0, len(rows))
	for _, row := range rows {
		out = append(out, toUserPermission(row))
	}
	return out, nil
}

func (g grantStore) UserGroup(_ context.Context, userID, groupID string) (*auth.UserGroup, error) {
	row, ok := g.s.find(outbox.TableUserGroups, outbox.Fields{"user_id": userID, "group_id": groupID})
	if !ok {
		return nil, auth.ErrNotFound
	}
	ug := toUserGroup(row)
	return &ug, nil
}

func (g grantStore) UserGroups(_ context.Context, userID string) ([]auth.UserGroup, error) {
	rows := g.s.list(outbox.TableUserGroups, outbox.Fields{"user_id": userID})
	out := make([]auth.UserGroup, 0, len(rows))
	for _, row := range rows {
		out = append(out, toUserGroup(row))
	}
	return out, nil
}

func (g grantStore) GroupPermission(_ context.Context, groupID, permissionID string) (*auth.GroupPermission, error) {
	row, ok := g.s.find(outbox.TableGroupPermissions, outbox.Fields{"group_id": groupID, "permission_id": permissionID})
	if !ok {
		return nil, auth.ErrNotFound
	}
	gp := toGroupPermission(row)
	return &gp, nil
}

func (g grantStore) GroupPermissions(_ context.Context, groupID string) ([]auth.GroupPermission, error) {
	return g.groupPermissionsBy(outbox.Fields{"group_id": groupID}), nil
}

func (g grantStore) PermissionGroups(_ context.Context, permissionID string) ([]auth.GroupPermission, error) {
	return g.groupPermissionsBy(outbox.Fields{"permission_id": permissionID}), nil
}

func (g grantStore) groupPermissionsBy(where outbox.Fields) []auth.GroupPermission {
	rows := g.s.list(outbox.TableGroupPermissions, where)
	out := make([]auth.GroupPermission, 0, len(rows))
	for _, row := range rows {
		out = append(out, toGroupPermission(row))
	}
	return out
}

type sessionStore struct{ s *Store }

func (ss sessionStore) Find(_ context.Context, userID, sessionID string) (*auth.Session, error) {
	row, ok := ss.s.find(outbox.TableSessions, outbox.Fields{"user_id": userID, "session_id": sessionID})
	if !ok {
		return nil, auth.ErrNotFound
	}
	sess := toSession(row)
	return &sess, nil
}

func (ss sessionStore) ListByUser(_ context.Context, userID string) ([]auth.Session, error) {
	rows := ss.s.list(outbox.TableSessions, outbox.Fields{"user_id": userID})
	out := make([]auth.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, toSession(row))
	}
	return out, nil
}

type challengeStore struct{ s *Store }

func (c challengeStore) Find(_ context.Context, id, flow string) (*auth.Challenge, error) {
	row, ok := c.s.find(outbox.TableChallenges, outbox.Fields{"id": id, "flow": flow})
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &auth.Challenge{
		ID: str(row, "id"), Flow: str(row, "flow"), Key: str(row, "key"), Value: str(row, "value"),
		Created: ts(row, "created"), Updated: ts(row, "updated"),
	}, nil
}

func toUser(row outbox.Fields) *auth.User {
	return &auth.User{
		ID: str(row, "id"), Email: str(row, "email"), Username: str(row, "username"),
		Password: str(row, "password"), Salt: str(row, "salt"), IsComplete: flag(row, "is_complete"),
		Created: ts(row, "created"), Updated: ts(row, "updated"),
	}
}

func toPermission(row outbox.Fields) *auth.Permission {
	return &auth.Permission{ID: str(row, "id"), IsOriginal: flag(row, "is_original"), Created: ts(row, "created"), Updated: ts(row, "updated")}
}

func toGroup(row outbox.Fields) *auth.Group {
	return &auth.Group{ID: str(row, "id"), IsOriginal: flag(row, "is_original"), Created: ts(row, "created"), Updated: ts(row, "updated")}
}

func toUserPermission(row outbox.Fields) auth.UserPermission {
	return auth.UserPermission{UserID: str(row, "user_id"), PermissionID: str(row, "permission_id"), Created: ts(row, "created"), Updated: ts(row, "updated")}
}

func toUserGroup(row outbox.Fields) auth.UserGroup {
	return auth.UserGroup{UserID: str(row, "user_id"), GroupID: str(row, "group_id"), Created: ts(row, "created"), Updated: ts(row, "updated")}
}

func toGroupPermission(row outbox.Fields) auth.GroupPermission {
	return auth.GroupPermission{
		GroupID: str(row, "group_id"), PermissionID: str(row, "permission_id"), IsOriginal: flag(row, "is_original"),
		Created: ts(row, "created"), Updated: ts(row, "updated"),
	}
}

func toSession(row outbox.Fields) auth.Session {
	return auth.Session{
		UserID: str(row, "user_id"), SessionID: str(row, "session_id"), Expirated: ts(row, "expirated"),
		Created: ts(row, "created"), Updated: ts(row, "updated"),
	}
}

func str(row outbox.Fields, col string) string {
	v, _ := row[col].(string)
	return v
}

func flag(row outbox.Fields, col string) bool {
	v, _ := row[col].(bool)
	return v
}

func ts(row outbox.Fields, col string) time.Time {
	v, _ := row[col].(time.Time)
	return v
}
