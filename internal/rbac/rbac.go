// Package rbac implements C2: the static role/permission catalog and the
// dynamic per-org user/role assignments that resolve a caller to a
// permission set.
package rbac

import (
	"context"
	"sort"

	"github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
)

// Store is the persistence boundary the registry needs. Implementations
// live under internal/store/{postgres,memory}.
type Store interface {
	SeedRoles(ctx context.Context, roles []domain.Role) error
	SeedPermissions(ctx context.Context, perms []domain.Permission) error
	SeedRolePermissions(ctx context.Context, edges []domain.RolePermission) error

	GrantRole(ctx context.Context, userID ids.UserID, orgID ids.OrgID, role string) error
	RevokeRole(ctx context.Context, userID ids.UserID, orgID ids.OrgID, role string) error

	// RolesForUser returns every (org, role) pair held by a user, across all
	// their orgs — needed because the caller explicitly has permissions for
	// any org they are a member of, not only the org in the current token
	// (§4.4 step 3).
	RolesForUser(ctx context.Context, userID ids.UserID) ([]domain.UserRole, error)
	PermissionsForRole(ctx context.Context, role string) ([]string, error)
}

// PermissionCache memoizes permissions_for(user, org) lookups. The Redis
// implementation lives in infrastructure/cache.
type PermissionCache interface {
	Get(ctx context.Context, userID ids.UserID, orgID ids.OrgID) ([]string, bool)
	Set(ctx context.Context, userID ids.UserID, orgID ids.OrgID, perms []string)
	Invalidate(ctx context.Context, userID ids.UserID)
}

// noopCache is used when no cache is configured; every lookup misses.
type noopCache struct{}

func (noopCache) Get(context.Context, ids.UserID, ids.OrgID) ([]string, bool) { return nil, false }
func (noopCache) Set(context.Context, ids.UserID, ids.OrgID, []string)        {}
func (noopCache) Invalidate(context.Context, ids.UserID)                     {}

// Catalog is the static role -> permission set, built once at startup and
// seeded idempotently (§9 "static catalog seeding").
var Catalog = []domain.RolePermission{
	{Role: "owner", Permission: "org-admin-get"},
	{Role: "owner", Permission: "org-admin-update"},
	{Role: "owner", Permission: "org-admin-delete"},
	{Role: "owner", Permission: "host-admin-get"},
	{Role: "owner", Permission: "host-admin-create"},
	{Role: "owner", Permission: "host-admin-delete"},
	{Role: "owner", Permission: "node-admin-get"},
	{Role: "owner", Permission: "node-admin-create"},
	{Role: "owner", Permission: "node-admin-delete"},
	{Role: "owner", Permission: "node-admin-update"},
	{Role: "owner", Permission: "invitation-admin-create"},

	{Role: "admin", Permission: "org-get"},
	{Role: "admin", Permission: "org-update"},
	{Role: "admin", Permission: "host-get"},
	{Role: "admin", Permission: "host-create"},
	{Role: "admin", Permission: "host-delete"},
	{Role: "admin", Permission: "node-get"},
	{Role: "admin", Permission: "node-create"},
	{Role: "admin", Permission: "node-delete"},
	{Role: "admin", Permission: "node-update"},
	{Role: "admin", Permission: "invitation-create"},

	{Role: "member", Permission: "org-get"},
	{Role: "member", Permission: "host-get"},
	{Role: "member", Permission: "node-get"},
	{Role: "member", Permission: "node-create"},

	// Service roles, granted by token type (host-agent, provisioning),
	// never stored per-user (§3 Role/Permission/UserRole invariant).
	{Role: "service-host", Permission: "command-pending"},
	{Role: "service-host", Permission: "command-ack"},
	{Role: "service-host", Permission: "metrics-host-report"},
	{Role: "service-host", Permission: "metrics-node-report"},
	{Role: "service-host", Permission: "node-update-status"},
}

// Roles returns the distinct role names in Catalog.
func Roles() []domain.Role {
	seen := map[string]struct{}{}
	var out []domain.Role
	for _, e := range Catalog {
		if _, ok := seen[e.Role]; ok {
			continue
		}
		seen[e.Role] = struct{}{}
		out = append(out, domain.Role{Name: e.Role})
	}
	return out
}

// Permissions returns the distinct permission names in Catalog.
func Permissions() []domain.Permission {
	seen := map[string]struct{}{}
	var out []domain.Permission
	for _, e := range Catalog {
		if _, ok := seen[e.Permission]; ok {
			continue
		}
		seen[e.Permission] = struct{}{}
		out = append(out, domain.Permission{Name: e.Permission})
	}
	return out
}

// Registry resolves (caller, target) pairs to granted permission sets.
type Registry struct {
	store Store
	cache PermissionCache
}

// Option customises a Registry.
type Option func(*Registry)

// WithCache attaches a permission cache. Without one, every lookup consults
// the store directly.
func WithCache(c PermissionCache) Option {
	return func(r *Registry) {
		if c != nil {
			r.cache = c
		}
	}
}

// New builds a Registry over the given store.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{store: store, cache: noopCache{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Seed is idempotent: missing catalog entries are created, nothing already
// present is dropped (§9). Re-running seeding is a no-op (§8 round-trips).
func (r *Registry) Seed(ctx context.Context) error {
	if err := r.store.SeedRoles(ctx, Roles()); err != nil {
		return errors.DatabaseError("seed roles", err)
	}
	if err := r.store.SeedPermissions(ctx, Permissions()); err != nil {
		return errors.DatabaseError("seed permissions", err)
	}
	if err := r.store.SeedRolePermissions(ctx, Catalog); err != nil {
		return errors.DatabaseError("seed role permissions", err)
	}
	return nil
}

// GrantRole assigns a role to a user within an org and invalidates any
// cached permission set for that user.
func (r *Registry) GrantRole(ctx context.Context, userID ids.UserID, orgID ids.OrgID, role string) error {
	if err := r.store.GrantRole(ctx, userID, orgID, role); err != nil {
		return errors.DatabaseError("grant role", err)
	}
	r.cache.Invalidate(ctx, userID)
	return nil
}

// RevokeRole removes a role from a user within an org and invalidates any
// cached permission set for that user.
func (r *Registry) RevokeRole(ctx context.Context, userID ids.UserID, orgID ids.OrgID, role string) error {
	if err := r.store.RevokeRole(ctx, userID, orgID, role); err != nil {
		return errors.DatabaseError("revoke role", err)
	}
	r.cache.Invalidate(ctx, userID)
	return nil
}

// PermissionsFor returns the union of permissions granted by every role the
// user holds in the given org, plus any non-org (service) role permissions
// already present in their claim set (those are merged in by the caller;
// this method only resolves org-scoped roles).
func (r *Registry) PermissionsFor(ctx context.Context, userID ids.UserID, orgID ids.OrgID) ([]string, error) {
	if cached, ok := r.cache.Get(ctx, userID, orgID); ok {
		return cached, nil
	}

	roles, err := r.store.RolesForUser(ctx, userID)
	if err != nil {
		return nil, errors.DatabaseError("load user roles", err)
	}

	seen := map[string]struct{}{}
	var out []string
	for _, ur := range roles {
		if ur.OrgID != orgID {
			continue
		}
		perms, err := r.store.PermissionsForRole(ctx, ur.Role)
		if err != nil {
			return nil, errors.DatabaseError("load role permissions", err)
		}
		for _, p := range perms {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Strings(out)
	r.cache.Set(ctx, userID, orgID, out)
	return out, nil
}

// PermissionsAcrossOrgs returns the union of permissions_for(user, org) for
// every org the user belongs to, used by the Authorizer when computing
// granted permissions for a user claim (§4.4 step 3).
func (r *Registry) PermissionsAcrossOrgs(ctx context.Context, userID ids.UserID) (map[ids.OrgID][]string, error) {
	roles, err := r.store.RolesForUser(ctx, userID)
	if err != nil {
		return nil, errors.DatabaseError("load user roles", err)
	}
	result := make(map[ids.OrgID][]string)
	for _, ur := range roles {
		perms, err := r.PermissionsFor(ctx, userID, ur.OrgID)
		if err != nil {
			return nil, err
		}
		result[ur.OrgID] = perms
	}
	return result, nil
}

// Ensure checks a required permission against a granted set, returning a
// MissingPermission error naming the permission when absent (§4.2).
func Ensure(permission string, granted []string) error {
	for _, g := range granted {
		if g == permission {
			return nil
		}
	}
	return errors.MissingPermission(permission)
}
