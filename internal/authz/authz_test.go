package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockjoy/controlplane/internal/authn"
	"github.com/blockjoy/controlplane/internal/cipher"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
	"github.com/blockjoy/controlplane/internal/rbac"
)

func pastTime() time.Time { return time.Now().Add(-time.Hour) }

type fakeRBACStore struct {
	rolesByUser map[ids.UserID][]domain.UserRole
	permsByRole map[string][]string
}

func newFakeRBACStore() *fakeRBACStore {
	return &fakeRBACStore{
		rolesByUser: map[ids.UserID][]domain.UserRole{},
		permsByRole: map[string][]string{
			"owner": {"org-admin-get", "node-admin-create"},
		},
	}
}

func (s *fakeRBACStore) SeedRoles(context.Context, []domain.Role) error             { return nil }
func (s *fakeRBACStore) SeedPermissions(context.Context, []domain.Permission) error  { return nil }
func (s *fakeRBACStore) SeedRolePermissions(context.Context, []domain.RolePermission) error {
	return nil
}
func (s *fakeRBACStore) GrantRole(ctx context.Context, userID ids.UserID, orgID ids.OrgID, role string) error {
	s.rolesByUser[userID] = append(s.rolesByUser[userID], domain.UserRole{UserID: userID, OrgID: orgID, Role: role})
	return nil
}
func (s *fakeRBACStore) RevokeRole(context.Context, ids.UserID, ids.OrgID, string) error { return nil }
func (s *fakeRBACStore) RolesForUser(ctx context.Context, userID ids.UserID) ([]domain.UserRole, error) {
	return s.rolesByUser[userID], nil
}
func (s *fakeRBACStore) PermissionsForRole(ctx context.Context, role string) ([]string, error) {
	return s.permsByRole[role], nil
}

type fakeMembership struct {
	memberOf map[string]bool
	orgOfHost map[string]ids.OrgID
	orgOfNode map[string]ids.OrgID
	hostOfNode map[string]ids.HostID
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{
		memberOf:   map[string]bool{},
		orgOfHost:  map[string]ids.OrgID{},
		orgOfNode:  map[string]ids.OrgID{},
		hostOfNode: map[string]ids.HostID{},
	}
}

func (m *fakeMembership) IsOrgMember(ctx context.Context, userID ids.UserID, orgID ids.OrgID) (bool, error) {
	return m.memberOf[userID.String()+":"+orgID.String()], nil
}
func (m *fakeMembership) OrgForHost(ctx context.Context, hostID ids.HostID) (ids.OrgID, error) {
	return m.orgOfHost[hostID.String()], nil
}
func (m *fakeMembership) OrgForNode(ctx context.Context, nodeID ids.NodeID) (ids.OrgID, error) {
	return m.orgOfNode[nodeID.String()], nil
}
func (m *fakeMembership) HostForNode(ctx context.Context, nodeID ids.NodeID) (ids.HostID, error) {
	return m.hostOfNode[nodeID.String()], nil
}

func testAuthorizer(t *testing.T) (*Authorizer, *cipher.Cipher, *fakeRBACStore, *fakeMembership) {
	t.Helper()
	c, err := cipher.New("test-secret")
	require.NoError(t, err)
	store := newFakeRBACStore()
	registry := rbac.New(store)
	membership := newFakeMembership()
	authenticator := authn.New(c, nil)
	return New(authenticator, registry, membership), c, store, membership
}

func TestAuthorize_UserMemberOfTargetOrg(t *testing.T) {
	z, c, store, membership := testAuthorizer(t)
	ctx := context.Background()

	userID := ids.NewUserID()
	orgID := ids.NewOrgID()
	membership.memberOf[userID.String()+":"+orgID.String()] = true
	require.NoError(t, store.GrantRole(ctx, userID, orgID, "owner"))

	token, err := c.EncodeBearer(cipher.Claims{Resource: cipher.ResourceFromUser(userID)})
	require.NoError(t, err)

	decision, err := z.Authorize(ctx, authn.RequestMetadata{BearerToken: token},
		[]string{"org-admin-get"},
		[]TargetResource{{Kind: cipher.ResourceOrg, ID: orgID.String()}})
	require.NoError(t, err)
	assert.Contains(t, decision.Granted, "org-admin-get")
}

func TestAuthorize_UserNotMemberOfTargetOrg(t *testing.T) {
	z, c, _, _ := testAuthorizer(t)
	ctx := context.Background()

	userID := ids.NewUserID()
	otherOrg := ids.NewOrgID()

	token, err := c.EncodeBearer(cipher.Claims{Resource: cipher.ResourceFromUser(userID)})
	require.NoError(t, err)

	_, err = z.Authorize(ctx, authn.RequestMetadata{BearerToken: token},
		[]string{"org-admin-get"},
		[]TargetResource{{Kind: cipher.ResourceOrg, ID: otherOrg.String()}})
	require.Error(t, err)
}

func TestAuthorize_MissingPermission(t *testing.T) {
	z, c, store, membership := testAuthorizer(t)
	ctx := context.Background()

	userID := ids.NewUserID()
	orgID := ids.NewOrgID()
	membership.memberOf[userID.String()+":"+orgID.String()] = true
	require.NoError(t, store.GrantRole(ctx, userID, orgID, "member"))

	token, err := c.EncodeBearer(cipher.Claims{Resource: cipher.ResourceFromUser(userID)})
	require.NoError(t, err)

	_, err = z.Authorize(ctx, authn.RequestMetadata{BearerToken: token},
		[]string{"node-admin-create"},
		[]TargetResource{{Kind: cipher.ResourceOrg, ID: orgID.String()}})
	require.Error(t, err)
}

func TestAuthorize_HostClaimAccessesItsNode(t *testing.T) {
	z, c, _, membership := testAuthorizer(t)
	ctx := context.Background()

	hostID := ids.NewHostID()
	nodeID := ids.NewNodeID()
	membership.hostOfNode[nodeID.String()] = hostID

	token, err := c.EncodeBearer(cipher.Claims{
		Resource:  cipher.ResourceFromHost(hostID),
		Endpoints: []string{"command-pending"},
	})
	require.NoError(t, err)

	decision, err := z.Authorize(ctx, authn.RequestMetadata{BearerToken: token},
		[]string{"command-pending"},
		[]TargetResource{{Kind: cipher.ResourceNode, ID: nodeID.String()}})
	require.NoError(t, err)
	assert.Contains(t, decision.Granted, "command-pending")
}

func TestAuthorize_HostClaimCannotAccessOtherHost(t *testing.T) {
	z, c, _, _ := testAuthorizer(t)
	ctx := context.Background()

	hostID := ids.NewHostID()
	otherHost := ids.NewHostID()

	token, err := c.EncodeBearer(cipher.Claims{Resource: cipher.ResourceFromHost(hostID)})
	require.NoError(t, err)

	_, err = z.Authorize(ctx, authn.RequestMetadata{BearerToken: token}, nil,
		[]TargetResource{{Kind: cipher.ResourceHost, ID: otherHost.String()}})
	require.Error(t, err)
}

func TestAuthorizeOrAll_AdminBypassesScopedCheck(t *testing.T) {
	z, c, store, _ := testAuthorizer(t)
	ctx := context.Background()

	userID := ids.NewUserID()
	orgID := ids.NewOrgID()
	require.NoError(t, store.GrantRole(ctx, userID, orgID, "owner"))

	otherOrg := ids.NewOrgID()
	token, err := c.EncodeBearer(cipher.Claims{Resource: cipher.ResourceFromUser(userID)})
	require.NoError(t, err)

	decision, err := z.AuthorizeOrAll(ctx, authn.RequestMetadata{BearerToken: token},
		"org-admin-get", "org-get",
		[]TargetResource{{Kind: cipher.ResourceOrg, ID: otherOrg.String()}})
	require.NoError(t, err)
	assert.Contains(t, decision.Granted, "org-admin-get")
}

func TestAuthorizeOrAll_FallsBackToScopedPermission(t *testing.T) {
	z, c, store, membership := testAuthorizer(t)
	ctx := context.Background()

	userID := ids.NewUserID()
	orgID := ids.NewOrgID()
	membership.memberOf[userID.String()+":"+orgID.String()] = true
	require.NoError(t, store.GrantRole(ctx, userID, orgID, "owner"))
	store.permsByRole["owner"] = append(store.permsByRole["owner"], "org-get")

	token, err := c.EncodeBearer(cipher.Claims{Resource: cipher.ResourceFromUser(userID)})
	require.NoError(t, err)

	_, err = z.AuthorizeOrAll(ctx, authn.RequestMetadata{BearerToken: token},
		"platform-admin", "org-get",
		[]TargetResource{{Kind: cipher.ResourceOrg, ID: orgID.String()}})
	require.NoError(t, err)
}

func TestAuthorize_ExpiredTokenPropagatesExpiredError(t *testing.T) {
	z, c, _, _ := testAuthorizer(t)
	ctx := context.Background()

	userID := ids.NewUserID()
	token, err := c.EncodeBearer(cipher.Claims{
		Resource:  cipher.ResourceFromUser(userID),
		Expirable: true,
		ExpiresAt: pastTime(),
	})
	require.NoError(t, err)

	_, err = z.Authorize(ctx, authn.RequestMetadata{BearerToken: token}, nil, nil)
	require.Error(t, err)
	var expired *authn.ExpiredJWTError
	assert.ErrorAs(t, err, &expired)
}
