package usecase

import (
	"context"

	"golang.org/x/sync/errgroup"

	"authcore.org/internal/audit"
	"authcore.org/internal/auth"
	"authcore.org/internal/outbox"
)

// CreatePermission adds a deletable permission.
func (s *Service) CreatePermission(ctx context.Context, caller auth.Caller, id string) (_ Created, err error) {
	ctx, span := s.start(ctx, "CreatePermission")
	defer func() { finish(span, err) }()

	if id, err = auth.NormalizeName("id", id); err != nil {
		return Created{}, err
	}
	_, err = s.store.Permissions(ctx).Find(ctx, id)
	if err := missing(err, "id"); err != nil {
		return Created{}, err
	}
	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	p, ops := s.managers.CreatePermission(rec, id)
	b.Add(ops...)
	if err := s.submit(ctx, "admin_create_permission", &b); err != nil {
		return Created{}, err
	}
	return Created{ID: p.ID}, nil
}

// GetPermission returns a permission and the groups holding it.
func (s *Service) GetPermission(ctx context.Context, id string) (_ PermissionView, err error) {
	ctx, span := s.start(ctx, "GetPermission")
	defer func() { finish(span, err) }()

	if id, err = auth.RequireID("id", id); err != nil {
		return PermissionView{}, err
	}
	var (
		perm   lookup[*auth.Permission]
		groups []auth.GroupPermission
	)
	eg, egctx := errgroup.WithContext(ctx)
	fetch(eg, &perm, func() (*auth.Permission, error) { return s.store.Permissions(egctx).Find(egctx, id) })
	eg.Go(func() error {
		var err error
		groups, err = s.store.Grants(egctx).PermissionGroups(egctx, id)
		return err
	})
	if err := wait(eg); err != nil {
		return PermissionView{}, err
	}
	p, err := need(perm, "id")
	if err != nil {
		return PermissionView{}, err
	}
	v := permissionView(p)
	v.Groups = make([]string, 0, len(groups))
	for _, g := range groups {
		v.Groups = append(v.Groups, g.GroupID)
	}
	return v, nil
}

// ListPermissions pages through the permission catalog.
func (s *Service) ListPermissions(ctx context.Context, skip, limit int) (_ []PermissionView, err error) {
	ctx, span := s.start(ctx, "ListPermissions")
	defer func() { finish(span, err) }()

	if skip, limit, err = auth.Page(skip, limit); err != nil {
		return nil, err
	}
	perms, err := s.store.Permissions(ctx).List(ctx, skip, limit)
	if err != nil {
		return nil, found(err, "permissions")
	}
	out := make([]PermissionView, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionView(p))
	}
	return out, nil
}

// DeletePermission removes a non-original permission and every grant of it.
func (s *Service) DeletePermission(ctx context.Context, caller auth.Caller, id string) (_ Message, err error) {
	ctx, span := s.start(ctx, "DeletePermission")
	defer func() { finish(span, err) }()

	if id, err = auth.RequireID("id", id); err != nil {
		return Message{}, err
	}
	p, err := s.store.Permissions(ctx).Find(ctx, id)
	if err != nil {
		return Message{}, found(err, "id")
	}
	if p.IsOriginal {
		return Message{}, auth.Protected("permission")
	}
	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	b.Add(s.managers.DeletePermission(rec, id)...)
	if err := s.submit(ctx, "admin_delete_permission", &b); err != nil {
		return Message{}, err
	}
	_ = audit.LogEvent(auth.ContextWithCaller(ctx, caller), audit.EventAdminDeleted, map[string]any{"table": outbox.TablePermissions, "id": id})
	return Message{Detail: "permission deleted"}, nil
}

// CreateGroup adds a deletable group.
func (s *Service) CreateGroup(ctx context.Context, caller auth.Caller, id string) (_ Created, err error) {
	ctx, span := s.start(ctx, "CreateGroup")
	defer func() { finish(span, err) }()

	if id, err = auth.NormalizeName("id", id); err != nil {
		return Created{}, err
	}
	_, err = s.store.Groups(ctx).Find(ctx, id)
	if err := missing(err, "id"); err != nil {
		return Created{}, err
	}
	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	g, ops := s.managers.CreateGroup(rec, id)
	b.Add(ops...)
	if err := s.submit(ctx, "admin_create_group", &b); err != nil {
		return Created{}, err
	}
	return Created{ID: g.ID}, nil
}

// GetGroup returns a group and its permissions.
func (s *Service) GetGroup(ctx context.Context, id string) (_ GroupView, err error) {
	ctx, span := s.start(ctx, "GetGroup")
	defer func() { finish(span, err) }()

	if id, err = auth.RequireID("id", id); err != nil {
		return GroupView{}, err
	}
	var (
		group lookup[*auth.Group]
		perms []auth.GroupPermission
	)
	eg, egctx := errgroup.WithContext(ctx)
	fetch(eg, &group, func() (*auth.Group, error) { return s.store.Groups(egctx).Find(egctx, id) })
	eg.Go(func() error {
		var err error
		perms, err = s.store.Grants(egctx).GroupPermissions(egctx, id)
		return err
	})
	if err := wait(eg); err != nil {
		return GroupView{}, err
	}
	g, err := need(group, "id")
	if err != nil {
		return GroupView{}, err
	}
	v := groupView(g)
	v.Permissions = make([]string, 0, len(perms))
	for _, p := range perms {
		v.Permissions = append(v.Permissions, p.PermissionID)
	}
	return v, nil
}

// ListGroups pages through groups.
func (s *Service) ListGroups(ctx context.Context, skip, limit int) (_ []GroupView, err error) {
	ctx, span := s.start(ctx, "ListGroups")
	defer func() { finish(span, err) }()

	if skip, limit, err = auth.Page(skip, limit); err != nil {
		return nil, err
	}
	groups, err := s.store.Groups(ctx).List(ctx, skip, limit)
	if err != nil {
		return nil, found(err, "groups")
	}
	out := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupView(g))
	}
	return out, nil
}

// DeleteGroup removes a non-original group with its memberships and grants.
func (s *Service) DeleteGroup(ctx context.Context, caller auth.Caller, id string) (_ Message, err error) {
	ctx, span := s.start(ctx, "DeleteGroup")
	defer func() { finish(span, err) }()

	if id, err = auth.RequireID("id", id); err != nil {
		return Message{}, err
	}
	g, err := s.store.Groups(ctx).Find(ctx, id)
	if err != nil {
		return Message{}, found(err, "id")
	}
	if g.IsOriginal {
		return Message{}, auth.Protected("group")
	}
	rec := s.recorder(caller.UserID)
	var b outbox.Batch
	b.Add(s.managers.DeleteGroup(rec, id)...)
	if err := s.submit(ctx, "admin_delete_group", &b); err != nil {
		return Message{}, err
	}
	_ = audit.LogEvent(auth.ContextWithCaller(ctx, caller), audit.EventAdminDeleted, map[string]any{"table": outbox.TableGroups, "id": id})
	return Message{Detail: "group deleted"}, nil
}
