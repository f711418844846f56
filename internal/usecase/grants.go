package usecase

import (
	"context"

	"golang.org/x/sync/errgroup"

	"authcore.org/internal/auth"
	"authcore.org/internal/outbox"
)

// UserPermissionInput names a direct grant.
type UserPermissionInput struct {
	UserID       string `json:"user_id"`
	PermissionID string `json:"permission_id"`
}

// GroupPermissionInput names a group grant.
type GroupPermissionInput struct {
	GroupID      string `json:"group_id"`
	PermissionID string `json:"permission_id"`
}

// UserGroupInput names a membership.
type UserGroupInput struct {
	UserID  string `json:"user_id"`
	GroupID string `json:"group_id"`
}

type userPermissionState struct {
	user     lookup[*auth.User]
	perm     lookup[*auth.Permission]
	relation lookup[*auth.UserPermission]
}

func (s *Service) loadUserPermission(ctx context.Context, in *UserPermissionInput) (userPermissionState, error) {
	var err error
	if in.UserID, err = auth.RequireID("user_id", in.UserID); err != nil {
		return userPermissionState{}, err
	}
	if in.PermissionID, err = auth.RequireID("permission_id", in.PermissionID); err != nil {
		return userPermissionState{}, err
	}
	var st userPermissionState
	eg, egctx := errgroup.WithContext(ctx)
	fetch(eg, &st.user, func() (*auth.User, error) { return s.store.Users(egctx).Find(egctx, in.UserID) })
	fetch(eg, &st.perm, func() (*auth.Permission, error) { return s.store.Permissions(egctx).Find(egctx, in.PermissionID) })
	fetch(eg, &st.relation, func() (*auth.UserPermission, error) {
		return s.store.Grants(egctx).UserPermission(egctx, in.UserID, in.PermissionID)
	})
	if err := wait(eg); err != nil {
		return st, err
	}
	if _, err := need(st.user, "user_id"); err != nil {
		return st, err
	}
	if _, err := need(st.perm, "permission_id"); err != nil {
		return st, err
	}
	return st, nil
}

// GrantPermissionToUser adds a direct grant.
func (s *Service) GrantPermissionToUser(ctx context.Context, caller auth.Caller, in UserPermissionInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "GrantPermissionToUser")
	defer func() { finish(span, err) }()

	st, err := s.loadUserPermission(ctx, &in)
	if err != nil {
		return Message{}, err
	}
	if err := absent(st.relation, "user_permission"); err != nil {
		return Message{}, err
	}
	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	_, ops := s.managers.GrantUserPermission(rec, in.UserID, in.PermissionID)
	b.Add(ops...)
	if err := s.submit(ctx, "admin_grant_user_permission", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "permission granted"}, nil
}

// RevokePermissionFromUser removes a direct grant.
func (s *Service) RevokePermissionFromUser(ctx context.Context, caller auth.Caller, in UserPermissionInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "RevokePermissionFromUser")
	defer func() { finish(span, err) }()

	st, err := s.loadUserPermission(ctx, &in)
	if err != nil {
		return Message{}, err
	}
	if _, err := need(st.relation, "user_permission"); err != nil {
		return Message{}, err
	}
	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	b.Add(s.managers.RevokeUserPermission(rec, in.UserID, in.PermissionID)...)
	if err := s.submit(ctx, "admin_revoke_user_permission", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "permission revoked"}, nil
}

type groupPermissionState struct {
	group    lookup[*auth.Group]
	perm     lookup[*auth.Permission]
	relation lookup[*auth.GroupPermission]
}

func (s *Service) loadGroupPermission(ctx context.Context, in *GroupPermissionInput) (groupPermissionState, error) {
	var err error
	if in.GroupID, err = auth.RequireID("group_id", in.GroupID); err != nil {
		return groupPermissionState{}, err
	}
	if in.PermissionID, err = auth.RequireID("permission_id", in.PermissionID); err != nil {
		return groupPermissionState{}, err
	}
	var st groupPermissionState
	eg, egctx := errgroup.WithContext(ctx)
	fetch(eg, &st.group, func() (*auth.Group, error) { return s.store.Groups(egctx).Find(egctx, in.GroupID) })
	fetch(eg, &st.perm, func() (*auth.Permission, error) { return s.store.Permissions(egctx).Find(egctx, in.PermissionID) })
	fetch(eg, &st.relation, func() (*auth.GroupPermission, error) {
		return s.store.Grants(egctx).GroupPermission(egctx, in.GroupID, in.PermissionID)
	})
	if err := wait(eg); err != nil {
		return st, err
	}
	if _, err := need(st.group, "group_id"); err != nil {
		return st, err
	}
	if _, err := need(st.perm, "permission_id"); err != nil {
		return st, err
	}
	return st, nil
}

// GrantPermissionToGroup gives every member of a group a permission.
func (s *Service) GrantPermissionToGroup(ctx context.Context, caller auth.Caller, in GroupPermissionInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "GrantPermissionToGroup")
	defer func() { finish(span, err) }()

	st, err := s.loadGroupPermission(ctx, &in)
	if err != nil {
		return Message{}, err
	}
	if err := absent(st.relation, "group_permission"); err != nil {
		return Message{}, err
	}
	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	_, ops := s.managers.GrantGroupPermission(rec, in.GroupID, in.PermissionID)
	b.Add(ops...)
	if err := s.submit(ctx, "admin_grant_group_permission", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "permission granted"}, nil
}

// RevokePermissionFromGroup removes a group grant. Seeded grants cannot be revoked.
func (s *Service) RevokePermissionFromGroup(ctx context.Context, caller auth.Caller, in GroupPermissionInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "RevokePermissionFromGroup")
	defer func() { finish(span, err) }()

	st, err := s.loadGroupPermission(ctx, &in)
	if err != nil {
		return Message{}, err
	}
	gp, err := need(st.relation, "group_permission")
	if err != nil {
		return Message{}, err
	}
	if gp.IsOriginal {
		return Message{}, auth.Protected("group_permission")
	}
	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	b.Add(s.managers.RevokeGroupPermission(rec, in.GroupID, in.PermissionID)...)
	if err := s.submit(ctx, "admin_revoke_group_permission", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "permission revoked"}, nil
}

type userGroupState struct {
	user     lookup[*auth.User]
	group    lookup[*auth.Group]
	relation lookup[*auth.UserGroup]
}

func (s *Service) loadUserGroup(ctx context.Context, in *UserGroupInput) (userGroupState, error) {
	var err error
	if in.UserID, err = auth.RequireID("user_id", in.UserID); err != nil {
		return userGroupState{}, err
	}
	if in.GroupID, err = auth.RequireID("group_id", in.GroupID); err != nil {
		return userGroupState{}, err
	}
	var st userGroupState
	eg, egctx := errgroup.WithContext(ctx)
	fetch(eg, &st.user, func() (*auth.User, error) { return s.store.Users(egctx).Find(egctx, in.UserID) })
	fetch(eg, &st.group, func() (*auth.Group, error) { return s.store.Groups(egctx).Find(egctx, in.GroupID) })
	fetch(eg, &st.relation, func() (*auth.UserGroup, error) {
		return s.store.Grants(egctx).UserGroup(egctx, in.UserID, in.GroupID)
	})
	if err := wait(eg); err != nil {
		return st, err
	}
	if _, err := need(st.user, "user_id"); err != nil {
		return st, err
	}
	if _, err := need(st.group, "group_id"); err != nil {
		return st, err
	}
	return st, nil
}

// AddUserToGroup creates a membership.
func (s *Service) AddUserToGroup(ctx context.Context, caller auth.Caller, in UserGroupInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "AddUserToGroup")
	defer func() { finish(span, err) }()

	st, err := s.loadUserGroup(ctx, &in)
	if err != nil {
		return Message{}, err
	}
	if err := absent(st.relation, "user_group"); err != nil {
		return Message{}, err
	}
	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	_, ops := s.managers.AddUserToGroup(rec, in.UserID, in.GroupID)
	b.Add(ops...)
	if err := s.submit(ctx, "admin_add_user_to_group", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "user added to group"}, nil
}

// RemoveUserFromGroup deletes a membership.
func (s *Service) RemoveUserFromGroup(ctx context.Context, caller auth.Caller, in UserGroupInput) (_ Message, err error) {
	ctx, span := s.start(ctx, "RemoveUserFromGroup")
	defer func() { finish(span, err) }()

	st, err := s.loadUserGroup(ctx, &in)
	if err != nil {
		return Message{}, err
	}
	if _, err := need(st.relation, "user_group"); err != nil {
		return Message{}, err
	}
	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	b.Add(s.managers.RemoveUserFromGroup(rec, in.UserID, in.GroupID)...)
	if err := s.submit(ctx, "admin_remove_user_from_group", &b); err != nil {
		return Message{}, err
	}
	return Message{Detail: "user removed from group"}, nil
}
