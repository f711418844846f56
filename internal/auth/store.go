package auth

import "context"

// Store describes the read side required by the auth subsystem. Writes go
// through the outbox.
type Store interface {
	Users(ctx context.Context) UserStore
	Permissions(ctx context.Context) PermissionStore
	Groups(ctx context.Context) GroupStore
	Grants(ctx context.Context) GrantStore
	Sessions(ctx context.Context) SessionStore
	Challenges(ctx context.Context) ChallengeStore
}

// UserStore reads users.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, skip, limit int) ([]*User, error)
}

// PermissionStore reads the permission catalog.
type PermissionStore interface {
	Find(ctx context.Context, id string) (*Permission, error)
	List(ctx context.Context, skip, limit int) ([]*Permission, error)
}

// GroupStore reads groups.
type GroupStore interface {
	Find(ctx context.Context, id string) (*Group, error)
	List(ctx context.Context, skip, limit int) ([]*Group, error)
}

// GrantStore reads the relation tables.
type GrantStore interface {
	UserPermission(ctx context.Context, userID, permissionID string) (*UserPermission, error)
	UserPermissions(ctx context.Context, userID string) ([]UserPermission, error)
	UserGroup(ctx context.Context, userID, groupID string) (*UserGroup, error)
	UserGroups(ctx context.Context, userID string) ([]UserGroup, error)
	GroupPermission(ctx context.Context, groupID, permissionID string) (*GroupPermission, error)
	GroupPermissions(ctx context.Context, groupID string) ([]GroupPermission, error)
	PermissionGroups(ctx context.Context, permissionID string) ([]GroupPermission, error)
}

// SessionStore reads sessions.
type SessionStore interface {
	Find(ctx context.Context, userID, sessionID string) (*Session, error)
	ListByUser(ctx context.Context, userID string) ([]Session, error)
}

// ChallengeStore reads challenges.
type ChallengeStore interface {
	Find(ctx context.Context, id, flow string) (*Challenge, error)
}
