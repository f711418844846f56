package usecase

import (
	"time"

	"authcore.org/internal/auth"
)

// Message is the answer of operations that only report success.
type Message struct {
	Detail string `json:"detail"`
}

// Created carries the identifier of a new record.
type Created struct {
	ID string `json:"id"`
}

// SignupResult answers Signup.
type SignupResult struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AccessResult answers Refresh.
type AccessResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// SessionView is a session as shown to its owner or an admin.
type SessionView struct {
	ID        string    `json:"id"`
	Expirated time.Time `json:"expirated"`
	Created   time.Time `json:"created"`
}

// UserView is a user without credentials, with its grants and sessions.
type UserView struct {
	ID          string        `json:"id"`
	Email       string        `json:"email"`
	Username    string        `json:"username"`
	IsComplete  bool          `json:"is_complete"`
	Created     time.Time     `json:"created"`
	Updated     time.Time     `json:"updated"`
	Permissions []string      `json:"permissions,omitempty"`
	Groups      []string      `json:"groups,omitempty"`
	Sessions    []SessionView `json:"sessions,omitempty"`
}

// PermissionView is a permission and the groups holding it.
type PermissionView struct {
	ID         string    `json:"id"`
	IsOriginal bool      `json:"is_original"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
	Groups     []string  `json:"groups,omitempty"`
}

// GroupView is a group and its permissions.
type GroupView struct {
	ID          string    `json:"id"`
	IsOriginal  bool      `json:"is_original"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
	Permissions []string  `json:"permissions,omitempty"`
}

// Capability answers CheckCapability.
type Capability struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func userView(u *auth.User) UserView {
	return UserView{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		IsComplete: u.IsComplete,
		Created:    u.Created,
		Updated:    u.Updated,
	}
}

func withGrants(v UserView, perms []auth.UserPermission, groups []auth.UserGroup, sessions []auth.Session) UserView {
	v.Permissions = make([]string, 0, len(perms))
	for _, p := range perms {
		v.Permissions = append(v.Permissions, p.PermissionID)
	}
	v.Groups = make([]string, 0, len(groups))
	for _, g := range groups {
		v.Groups = append(v.Groups, g.GroupID)
	}
	v.Sessions = make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		v.Sessions = append(v.Sessions, SessionView{ID: s.SessionID, Expirated: s.Expirated, Created: s.Created})
	}
	return v
}

func permissionView(p *auth.Permission) PermissionView {
	return PermissionView{ID: p.ID, IsOriginal: p.IsOriginal, Created: p.Created, Updated: p.Updated}
}

func groupView(g *auth.Group) GroupView {
	return GroupView{ID: g.ID, IsOriginal: g.IsOriginal, Created: g.Created, Updated: g.Updated}
}
