package auth

import "time"

// Challenge flows.
const (
	FlowSignup   = "signup"
	FlowPassword = "password"
	FlowEmail    = "email"
)

// DefaultGroup is the group every new user joins.
const DefaultGroup = "normal"

// AdminPermission grants every other permission.
const AdminPermission = "admin"

// User is an account. Password holds the bcrypt hash of password+salt.
type User struct {
	ID         string
	Email      string
	Username   string
	Password   string
	Salt       string
	IsComplete bool
	Created    time.Time
	Updated    time.Time
}

// Permission is a named capability.
type Permission struct {
	ID         string
	IsOriginal bool
	Created    time.Time
	Updated    time.Time
}

// Group bundles permissions.
type Group struct {
	ID         string
	IsOriginal bool
	Created    time.Time
	Updated    time.Time
}

// UserPermission is a direct grant.
type UserPermission struct {
	UserID       string
	PermissionID string
	Created      time.Time
	Updated      time.Time
}

// UserGroup is a group membership.
type UserGroup struct {
	UserID  string
	GroupID string
	Created time.Time
	Updated time.Time
}

// GroupPermission links a group to a permission.
type GroupPermission struct {
	GroupID      string
	PermissionID string
	IsOriginal   bool
	Created      time.Time
	Updated      time.Time
}

// Session is one login. Expirated is the advisory end of the refresh window.
type Session struct {
	UserID    string
	SessionID string
	Expirated time.Time
	Created   time.Time
	Updated   time.Time
}

// Challenge is the single-use code of a flow. ID is the subject (user id),
// Key the code and Value an optional payload such as a pending email.
type Challenge struct {
	ID      string
	Flow    string
	Key     string
	Value   string
	Created time.Time
	Updated time.Time
}

// AuditLog is an append-only record of a state change.
type AuditLog struct {
	ID         string
	UserID     string
	ObjectType string
	ObjectID   string
	Action     string
	Message    string
	Created    time.Time
	Updated    time.Time
}

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID    string
	SessionID string
}
