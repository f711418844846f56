package manager

import (
	"time"

	"authcore.org/internal/auth"
	"authcore.org/internal/ids"
	"authcore.org/internal/outbox"
)

// GrantUserPermission gives userID a direct permission.
func (m *Manager) GrantUserPermission(rec *outbox.Recorder, userID, permissionID string) (auth.UserPermission, []outbox.Operation) {
	now := m.stamp()
	ops := rec.On(outbox.TableUserPermissions).Create(outbox.Fields{
		"user_id": userID, "permission_id": permissionID, "created": now, "updated": now,
	})
	return auth.UserPermission{UserID: userID, PermissionID: permissionID, Created: now, Updated: now}, ops
}

// RevokeUserPermission removes a direct permission.
func (m *Manager) RevokeUserPermission(rec *outbox.Recorder, userID, permissionID string) []outbox.Operation {
	return rec.On(outbox.TableUserPermissions).Delete(outbox.Fields{"user_id": userID, "permission_id": permissionID})
}

// GrantGroupPermission gives every member of groupID a permission.
func (m *Manager) GrantGroupPermission(rec *outbox.Recorder, groupID, permissionID string) (auth.GroupPermission, []outbox.Operation) {
	now := m.stamp()
	ops := rec.On(outbox.TableGroupPermissions).Create(outbox.Fields{
		"group_id": groupID, "permission_id": permissionID, "is_original": false, "created": now, "updated": now,
	})
	return auth.GroupPermission{GroupID: groupID, PermissionID: permissionID, Created: now, Updated: now}, ops
}

// RevokeGroupPermission removes a group grant.
func (m *Manager) RevokeGroupPermission(rec *outbox.Recorder, groupID, permissionID string) []outbox.Operation {
	return rec.On(outbox.TableGroupPermissions).Delete(outbox.Fields{"group_id": groupID, "permission_id": permissionID})
}

// AddUserToGroup creates a membership.
func (m *Manager) AddUserToGroup(rec *outbox.Recorder, userID, groupID string) (auth.UserGroup, []outbox.Operation) {
	now := m.stamp()
	ops := rec.On(outbox.TableUserGroups).Create(outbox.Fields{
		"user_id": userID, "group_id": groupID, "created": now, "updated": now,
	})
	return auth.UserGroup{UserID: userID, GroupID: groupID, Created: now, Updated: now}, ops
}

// RemoveUserFromGroup deletes a membership.
func (m *Manager) RemoveUserFromGroup(rec *outbox.Recorder, userID, groupID string) []outbox.Operation {
	return rec.On(outbox.TableUserGroups).Delete(outbox.Fields{"user_id": userID, "group_id": groupID})
}

// CreateSession opens a session for userID whose refresh window ends at expirated.
func (m *Manager) CreateSession(rec *outbox.Recorder, userID string, expirated time.Time) (auth.Session, []outbox.Operation) {
	now := m.stamp()
	s := auth.Session{UserID: userID, SessionID: ids.UUID(), Expirated: expirated.UTC(), Created: now, Updated: now}
	ops := rec.On(outbox.TableSessions).Create(outbox.Fields{
		"user_id": s.UserID, "session_id": s.SessionID, "expirated": s.Expirated, "created": now, "updated": now,
	})
	return s, ops
}

// DeleteSession closes one session.
func (m *Manager) DeleteSession(rec *outbox.Recorder, userID, sessionID string) []outbox.Operation {
	return rec.On(outbox.TableSessions).Delete(outbox.Fields{"user_id": userID, "session_id": sessionID})
}

// DeleteSessions closes every session of userID.
func (m *Manager) DeleteSessions(rec *outbox.Recorder, userID string) []outbox.Operation {
	return rec.On(outbox.TableSessions).DeleteManyBy(outbox.Fields{"user_id": userID})
}
