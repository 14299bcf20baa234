// Package authz implements C4: combining authentication output with the
// RBAC registry to produce an authorization decision for a target resource.
package authz

import (
	"context"
	"strings"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/authn"
	"github.com/blockjoy/controlplane/internal/cipher"
	"github.com/blockjoy/controlplane/internal/ids"
	"github.com/blockjoy/controlplane/internal/rbac"
)

// TargetResource is one resource an authorization check must verify access
// against (§4.4 step 2).
type TargetResource struct {
	Kind cipher.ResourceKind
	ID   string
}

// MembershipLookup answers "is user a member of org" so the Authorizer can
// check a User claim's access to an Org/Host/Node target without depending
// on a concrete store.
type MembershipLookup interface {
	IsOrgMember(ctx context.Context, userID ids.UserID, orgID ids.OrgID) (bool, error)
	OrgForHost(ctx context.Context, hostID ids.HostID) (ids.OrgID, error)
	OrgForNode(ctx context.Context, nodeID ids.NodeID) (ids.OrgID, error)
	HostForNode(ctx context.Context, nodeID ids.NodeID) (ids.HostID, error)
}

// Decision is the outcome of a successful authorization check.
type Decision struct {
	Claims  cipher.Claims
	Granted []string
}

// Authorizer is C4.
type Authorizer struct {
	authenticator *authn.Authenticator
	rbac          *rbac.Registry
	membership    MembershipLookup
}

// New builds an Authorizer.
func New(a *authn.Authenticator, r *rbac.Registry, m MembershipLookup) *Authorizer {
	return &Authorizer{authenticator: a, rbac: r, membership: m}
}

// Authorize runs the full §4.4 algorithm: parse -> verify target access ->
// compute granted permissions -> ensure required permissions are present.
func (z *Authorizer) Authorize(ctx context.Context, meta authn.RequestMetadata, required []string, targets []TargetResource) (Decision, error) {
	claims, err := z.authenticator.Authenticate(ctx, meta)
	if err != nil {
		return Decision{}, err
	}

	for _, t := range targets {
		if ok, err := z.canAccess(ctx, claims, t); err != nil {
			return Decision{}, err
		} else if !ok {
			return Decision{}, svcerrors.MissingPermission(strings.Join(required, ","))
		}
	}

	granted, err := z.grantedPermissions(ctx, claims)
	if err != nil {
		return Decision{}, err
	}

	for _, perm := range required {
		if err := rbac.Ensure(perm, granted); err != nil {
			return Decision{}, err
		}
	}

	return Decision{Claims: claims, Granted: granted}, nil
}

// AuthorizeOrAll implements "auth_or_all": try a broad admin permission
// first; on miss, fall back to a narrower permission scoped to the target
// (§4.4 "auth_or_all"). Per the Open Question in §9, the broad permission
// is treated as also bypassing the target-resource check — an admin
// permission is only ever granted platform-wide, so there is no narrower
// target to check once it is held.
func (z *Authorizer) AuthorizeOrAll(ctx context.Context, meta authn.RequestMetadata, adminPermission, scopedPermission string, targets []TargetResource) (Decision, error) {
	claims, err := z.authenticator.Authenticate(ctx, meta)
	if err != nil {
		return Decision{}, err
	}

	granted, err := z.grantedPermissions(ctx, claims)
	if err != nil {
		return Decision{}, err
	}

	if rbac.Ensure(adminPermission, granted) == nil {
		return Decision{Claims: claims, Granted: granted}, nil
	}

	for _, t := range targets {
		if ok, err := z.canAccess(ctx, claims, t); err != nil {
			return Decision{}, err
		} else if !ok {
			return Decision{}, svcerrors.MissingPermission(scopedPermission)
		}
	}
	if err := rbac.Ensure(scopedPermission, granted); err != nil {
		return Decision{}, err
	}
	return Decision{Claims: claims, Granted: granted}, nil
}

// canAccess implements the access-granularity rule of §4.4 step 2: User can
// access any org they belong to; Org can access itself and nested
// hosts/nodes; Host can access itself and its nodes; Node can access itself.
func (z *Authorizer) canAccess(ctx context.Context, claims cipher.Claims, target TargetResource) (bool, error) {
	switch claims.Resource.Kind {
	case cipher.ResourceUser:
		if target.Kind != cipher.ResourceOrg {
			// A user claim's access to host/node targets is mediated by
			// the org that owns them.
			return z.userCanAccessNonOrgTarget(ctx, claims, target)
		}
		orgID, err := ids.ParseOrgID(target.ID)
		if err != nil {
			return false, svcerrors.InvalidInput("org_id", err.Error())
		}
		userID, err := ids.ParseUserID(claims.Resource.ID)
		if err != nil {
			return false, svcerrors.InvalidInput("user_id", err.Error())
		}
		return z.membership.IsOrgMember(ctx, userID, orgID)

	case cipher.ResourceOrg:
		if target.Kind == cipher.ResourceOrg {
			return target.ID == claims.Resource.ID, nil
		}
		targetOrg, err := z.orgForTarget(ctx, target)
		if err != nil {
			return false, err
		}
		return targetOrg == claims.Resource.ID, nil

	case cipher.ResourceHost:
		if target.Kind == cipher.ResourceHost {
			return target.ID == claims.Resource.ID, nil
		}
		if target.Kind == cipher.ResourceNode {
			nodeID, err := ids.ParseNodeID(target.ID)
			if err != nil {
				return false, svcerrors.InvalidInput("node_id", err.Error())
			}
			hostID, err := z.membership.HostForNode(ctx, nodeID)
			if err != nil {
				return false, svcerrors.DatabaseError("resolve host for node", err)
			}
			return hostID.String() == claims.Resource.ID, nil
		}
		return false, nil

	case cipher.ResourceNode:
		return target.Kind == cipher.ResourceNode && target.ID == claims.Resource.ID, nil

	default:
		return false, nil
	}
}

func (z *Authorizer) userCanAccessNonOrgTarget(ctx context.Context, claims cipher.Claims, target TargetResource) (bool, error) {
	targetOrg, err := z.orgForTarget(ctx, target)
	if err != nil {
		return false, err
	}
	userID, err := ids.ParseUserID(claims.Resource.ID)
	if err != nil {
		return false, svcerrors.InvalidInput("user_id", err.Error())
	}
	orgID, err := ids.ParseOrgID(targetOrg)
	if err != nil {
		return false, svcerrors.InvalidInput("org_id", err.Error())
	}
	return z.membership.IsOrgMember(ctx, userID, orgID)
}

func (z *Authorizer) orgForTarget(ctx context.Context, target TargetResource) (string, error) {
	switch target.Kind {
	case cipher.ResourceOrg:
		return target.ID, nil
	case cipher.ResourceHost:
		hostID, err := ids.ParseHostID(target.ID)
		if err != nil {
			return "", svcerrors.InvalidInput("host_id", err.Error())
		}
		orgID, err := z.membership.OrgForHost(ctx, hostID)
		if err != nil {
			return "", svcerrors.DatabaseError("resolve org for host", err)
		}
		return orgID.String(), nil
	case cipher.ResourceNode:
		nodeID, err := ids.ParseNodeID(target.ID)
		if err != nil {
			return "", svcerrors.InvalidInput("node_id", err.Error())
		}
		orgID, err := z.membership.OrgForNode(ctx, nodeID)
		if err != nil {
			return "", svcerrors.DatabaseError("resolve org for node", err)
		}
		return orgID.String(), nil
	default:
		return "", svcerrors.InvalidInput("target", "unsupported target kind")
	}
}

// grantedPermissions computes granted = endpoint-implied permissions union
// role-implied permissions. For user claims this spans every org the user
// is a member of, not just the org named in the token (§4.4 step 3).
func (z *Authorizer) grantedPermissions(ctx context.Context, claims cipher.Claims) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	add := func(perms []string) {
		for _, p := range perms {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	add(claims.Endpoints)

	if claims.Resource.Kind != cipher.ResourceUser {
		return out, nil
	}
	userID, err := ids.ParseUserID(claims.Resource.ID)
	if err != nil {
		return nil, svcerrors.InvalidInput("user_id", err.Error())
	}
	byOrg, err := z.rbac.PermissionsAcrossOrgs(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, perms := range byOrg {
		add(perms)
	}
	return out, nil
}
