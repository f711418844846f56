// Package rbac resolves a user's effective permissions and groups and checks
// them against the requirements of an operation.
package rbac

import (
	"context"
	"fmt"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"authcore.org/internal/auth"
)

// GrantSource is the subset of the grant store the resolver reads.
type GrantSource interface {
	UserPermissions(ctx context.Context, userID string) ([]auth.UserPermission, error)
	UserGroups(ctx context.Context, userID string) ([]auth.UserGroup, error)
	GroupPermissions(ctx context.Context, groupID string) ([]auth.GroupPermission, error)
}

// Grants is the resolved authorization state of a user.
type Grants struct {
	Permissions []string
	Groups      []string
}

// HasPermission is true on a literal match or when the admin permission is held.
func (g Grants) HasPermission(p string) bool {
	return slices.Contains(g.Permissions, p) || slices.Contains(g.Permissions, auth.AdminPermission)
}

// HasGroup is exact membership.
func (g Grants) HasGroup(group string) bool {
	return slices.Contains(g.Groups, group)
}

// Check fails with Unauthorized on the first missing group, then the first missing permission.
func Check(g Grants, permissions, groups []string) error {
	for _, group := range groups {
		if !g.HasGroup(group) {
			return auth.Unauthorized("groups")
		}
	}
	for _, p := range permissions {
		if !g.HasPermission(p) {
			return auth.Unauthorized("permissions")
		}
	}
	return nil
}

// Resolver computes effective grants.
type Resolver struct {
	src GrantSource
}

// NewResolver returns a resolver reading from src.
func NewResolver(src GrantSource) *Resolver {
	return &Resolver{src: src}
}

// EffectivePermissions unions direct grants with the grants of every group the user
// belongs to. Duplicates collapse, first occurrence wins the position.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) (Grants, error) {
	var (
		direct      []auth.UserPermission
		memberships []auth.UserGroup
	)
	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		direct, err = r.src.UserPermissions(egctx, userID)
		return err
	})
	eg.Go(func() error {
		var err error
		memberships, err = r.src.UserGroups(egctx, userID)
		return err
	})
	if err := eg.Wait(); err != nil {
		return Grants{}, fmt.Errorf("rbac: load grants: %w", err)
	}

	perGroup := make([][]auth.GroupPermission, len(memberships))
	eg, egctx = errgroup.WithContext(ctx)
	for i, m := range memberships {
		eg.Go(func() error {
			gps, err := r.src.GroupPermissions(egctx, m.GroupID)
			perGroup[i] = gps
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return Grants{}, fmt.Errorf("rbac: load group grants: %w", err)
	}

	var g Grants
	seenPerm := make(map[string]bool)
	addPerm := func(p string) {
		if !seenPerm[p] {
			seenPerm[p] = true
			g.Permissions = append(g.Permissions, p)
		}
	}
	for _, up := range direct {
		addPerm(up.PermissionID)
	}
	seenGroup := make(map[string]bool)
	for i, m := range memberships {
		if !seenGroup[m.GroupID] {
			seenGroup[m.GroupID] = true
			g.Groups = append(g.Groups, m.GroupID)
		}
		for _, gp := range perGroup[i] {
			addPerm(gp.PermissionID)
		}
	}
	if g.Permissions == nil {
		g.Permissions = []string{}
	}
	if g.Groups == nil {
		g.Groups = []string{}
	}
	return g, nil
}

type cachedSource struct {
	GrantSource
	groups *lru.LRU[string, []auth.GroupPermission]
}

// NewCachedGrantSource caches group grants for ttl. Revocations become visible
// once the entry expires.
func NewCachedGrantSource(src GrantSource, size int, ttl time.Duration) GrantSource {
	if size <= 0 || ttl <= 0 {
		return src
	}
	return &cachedSource{
		GrantSource: src,
		groups:      lru.NewLRU[string, []auth.GroupPermission](size, nil, ttl),
	}
}

func (c *cachedSource) GroupPermissions(ctx context.Context, groupID string) ([]auth.GroupPermission, error) {
	if gps, ok := c.groups.Get(groupID); ok {
		return gps, nil
	}
	gps, err := c.GrantSource.GroupPermissions(ctx, groupID)
	if err != nil {
		return nil, err
	}
	c.groups.Add(groupID, gps)
	return gps, nil
}
