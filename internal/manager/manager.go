// Package manager builds entities and the outbox operations that persist them.
// Managers never write: callers collect the operations and submit them once.
package manager

import (
	"fmt"
	"time"

	"authcore.org/internal/auth"
	"authcore.org/internal/ids"
	"authcore.org/internal/outbox"
)

// Manager stamps entities with its clock.
type Manager struct {
	now func() time.Time
}

// New returns a Manager. A nil clock means time.Now.
func New(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{now: now}
}

func (m *Manager) stamp() time.Time {
	return m.now().UTC()
}

// NewUserInput describes a user to create.
type NewUserInput struct {
	Email      string
	Username   string
	Password   string
	IsComplete bool
}

// CreateUser hashes the password with a fresh salt and returns the new user.
func (m *Manager) CreateUser(rec *outbox.Recorder, in NewUserInput) (auth.User, []outbox.Operation, error) {
	salt := auth.NewSalt()
	hash, err := auth.HashPassword(in.Password, salt)
	if err != nil {
		return auth.User{}, nil, fmt.Errorf("manager: hash password: %w", err)
	}
	now := m.stamp()
	u := auth.User{
		ID:         ids.UUID(),
		Email:      in.Email,
		Username:   in.Username,
		Password:   hash,
		Salt:       salt,
		IsComplete: in.IsComplete,
		Created:    now,
		Updated:    now,
	}
	ops := rec.On(outbox.TableUsers).Create(outbox.Fields{
		"id":          u.ID,
		"email":       u.Email,
		"username":    u.Username,
		"password":    u.Password,
		"salt":        u.Salt,
		"is_complete": u.IsComplete,
		"created":     now,
		"updated":     now,
	})
	return u, ops, nil
}

func (m *Manager) updateUser(rec *outbox.Recorder, u *auth.User, data outbox.Fields) []outbox.Operation {
	now := m.stamp()
	u.Updated = now
	data["updated"] = now
	return rec.On(outbox.TableUsers).Update(outbox.Fields{"id": u.ID}, data)
}

// SetPassword rotates the salt and stores the new password hash on u.
func (m *Manager) SetPassword(rec *outbox.Recorder, u *auth.User, password string) ([]outbox.Operation, error) {
	salt := auth.NewSalt()
	hash, err := auth.HashPassword(password, salt)
	if err != nil {
		return nil, fmt.Errorf("manager: hash password: %w", err)
	}
	u.Password = hash
	u.Salt = salt
	return m.updateUser(rec, u, outbox.Fields{"password": hash, "salt": salt}), nil
}

// SetEmail changes the address of u.
func (m *Manager) SetEmail(rec *outbox.Recorder, u *auth.User, email string) []outbox.Operation {
	u.Email = email
	return m.updateUser(rec, u, outbox.Fields{"email": email})
}

// SetUsername changes the display name of u.
func (m *Manager) SetUsername(rec *outbox.Recorder, u *auth.User, username string) []outbox.Operation {
	u.Username = username
	return m.updateUser(rec, u, outbox.Fields{"username": username})
}

// SetComplete changes the signup completion flag of u.
func (m *Manager) SetComplete(rec *outbox.Recorder, u *auth.User, complete bool) []outbox.Operation {
	u.IsComplete = complete
	return m.updateUser(rec, u, outbox.Fields{"is_complete": complete})
}

// DeleteUser removes the user after every row that references it.
func (m *Manager) DeleteUser(rec *outbox.Recorder, userID string) []outbox.Operation {
	var b outbox.Batch
	b.Add(rec.On(outbox.TableUserPermissions).DeleteManyBy(outbox.Fields{"user_id": userID})...)
	b.Add(rec.On(outbox.TableUserGroups).DeleteManyBy(outbox.Fields{"user_id": userID})...)
	b.Add(rec.On(outbox.TableSessions).DeleteManyBy(outbox.Fields{"user_id": userID})...)
	b.Add(rec.On(outbox.TableChallenges).DeleteManyBy(outbox.Fields{"id": userID})...)
	b.Add(rec.On(outbox.TableUsers).Delete(outbox.Fields{"id": userID})...)
	return b.Operations()
}

// CreatePermission returns a new, deletable permission.
func (m *Manager) CreatePermission(rec *outbox.Recorder, id string) (auth.Permission, []outbox.Operation) {
	now := m.stamp()
	p := auth.Permission{ID: id, Created: now, Updated: now}
	ops := rec.On(outbox.TablePermissions).Create(outbox.Fields{
		"id": id, "is_original": false, "created": now, "updated": now,
	})
	return p, ops
}

// DeletePermission removes a permission and every grant of it.
func (m *Manager) DeletePermission(rec *outbox.Recorder, id string) []outbox.Operation {
	var b outbox.Batch
	b.Add(rec.On(outbox.TableUserPermissions).DeleteManyBy(outbox.Fields{"permission_id": id})...)
	b.Add(rec.On(outbox.TableGroupPermissions).DeleteManyBy(outbox.Fields{"permission_id": id})...)
	b.Add(rec.On(outbox.TablePermissions).Delete(outbox.Fields{"id": id})...)
	return b.Operations()
}

// CreateGroup returns a new, deletable group.
func (m *Manager) CreateGroup(rec *outbox.Recorder, id string) (auth.Group, []outbox.Operation) {
	now := m.stamp()
	g := auth.Group{ID: id, Created: now, Updated: now}
	ops := rec.On(outbox.TableGroups).Create(outbox.Fields{
		"id": id, "is_original": false, "created": now, "updated": now,
	})
	return g, ops
}

// DeleteGroup removes a group with its memberships and grants.
func (m *Manager) DeleteGroup(rec *outbox.Recorder, id string) []outbox.Operation {
	var b outbox.Batch
	b.Add(rec.On(outbox.TableUserGroups).DeleteManyBy(outbox.Fields{"group_id": id})...)
	b.Add(rec.On(outbox.TableGroupPermissions).DeleteManyBy(outbox.Fields{"group_id": id})...)
	b.Add(rec.On(outbox.TableGroups).Delete(outbox.Fields{"id": id})...)
	return b.Operations()
}
