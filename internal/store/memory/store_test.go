package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
	"github.com/blockjoy/controlplane/internal/scheduler"
)

func candidateReq(orgID ids.OrgID) scheduler.PlacementRequest {
	return scheduler.PlacementRequest{OrgID: orgID}
}

func TestRBAC_GrantRoleIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	userID, orgID := ids.NewUserID(), ids.NewOrgID()

	require.NoError(t, s.GrantRole(ctx, userID, orgID, "owner"))
	require.NoError(t, s.GrantRole(ctx, userID, orgID, "owner"))

	roles, err := s.RolesForUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestRBAC_RevokeRoleRemovesAssignment(t *testing.T) {
	s := New()
	ctx := context.Background()
	userID, orgID := ids.NewUserID(), ids.NewOrgID()

	require.NoError(t, s.GrantRole(ctx, userID, orgID, "owner"))
	require.NoError(t, s.RevokeRole(ctx, userID, orgID, "owner"))

	roles, err := s.RolesForUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestMembership_OrgForHostNotFound(t *testing.T) {
	s := New()
	_, err := s.OrgForHost(context.Background(), ids.NewHostID())
	require.Error(t, err)
}

func TestMembership_IsOrgMember(t *testing.T) {
	s := New()
	userID, orgID := ids.NewUserID(), ids.NewOrgID()
	s.AddOrgMembership(domain.OrgUser{UserID: userID, OrgID: orgID})

	ok, err := s.IsOrgMember(context.Background(), userID, orgID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsOrgMember(context.Background(), ids.NewUserID(), orgID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommands_PendingIsOrderedByCreation(t *testing.T) {
	s := New()
	ctx := context.Background()
	hostID := ids.NewHostID()

	older := domain.Command{ID: ids.NewCommandID(), HostID: hostID, CreatedAt: time.Unix(100, 0)}
	newer := domain.Command{ID: ids.NewCommandID(), HostID: hostID, CreatedAt: time.Unix(200, 0)}
	_, err := s.InsertCommand(ctx, nil, newer)
	require.NoError(t, err)
	_, err = s.InsertCommand(ctx, nil, older)
	require.NoError(t, err)

	pending, err := s.PendingCommands(ctx, hostID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.ID, pending[0].ID)
	assert.Equal(t, newer.ID, pending[1].ID)
}

func TestCommands_AckSetsExitFields(t *testing.T) {
	s := New()
	ctx := context.Background()
	cmd := domain.Command{ID: ids.NewCommandID(), HostID: ids.NewHostID(), CreatedAt: time.Now()}
	_, err := s.InsertCommand(ctx, nil, cmd)
	require.NoError(t, err)

	acked, err := s.AckCommand(ctx, cmd.ID, domain.CommandExitOk, "done", nil)
	require.NoError(t, err)
	require.NotNil(t, acked.ExitCode)
	assert.Equal(t, domain.CommandExitOk, *acked.ExitCode)
	assert.False(t, acked.IsPending())
}

func TestCommands_DeletePendingForNodeOnlyRemovesThatNode(t *testing.T) {
	s := New()
	ctx := context.Background()
	hostID := ids.NewHostID()
	nodeA, nodeB := ids.NewNodeID(), ids.NewNodeID()

	cmdA := domain.Command{ID: ids.NewCommandID(), HostID: hostID, NodeID: &nodeA, CreatedAt: time.Now()}
	cmdB := domain.Command{ID: ids.NewCommandID(), HostID: hostID, NodeID: &nodeB, CreatedAt: time.Now()}
	_, _ = s.InsertCommand(ctx, nil, cmdA)
	_, _ = s.InsertCommand(ctx, nil, cmdB)

	require.NoError(t, s.DeletePendingForNode(ctx, nil, nodeA))

	pending, err := s.PendingCommands(ctx, hostID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, cmdB.ID, pending[0].ID)
}

func TestAccounting_ReserveIPFailsWhenExhausted(t *testing.T) {
	s := New()
	hostID := ids.NewHostID()
	_, err := s.ReserveIP(context.Background(), hostID)
	require.Error(t, err)
}

func TestAccounting_ReserveAndReleaseIP(t *testing.T) {
	s := New()
	ctx := context.Background()
	hostID := ids.NewHostID()
	ip := domain.IPAddress{ID: ids.NewIPAddressID(), HostID: hostID, IP: "10.0.0.5"}
	require.NoError(t, s.InsertIPAddresses(ctx, []domain.IPAddress{ip}))

	reserved, err := s.ReserveIP(ctx, hostID)
	require.NoError(t, err)
	assert.Equal(t, ip.IP, reserved.IP)

	_, err = s.ReserveIP(ctx, hostID)
	require.Error(t, err)

	require.NoError(t, s.ReleaseIP(ctx, ip.ID))
	reserved2, err := s.ReserveIP(ctx, hostID)
	require.NoError(t, err)
	assert.Equal(t, ip.ID, reserved2.ID)
}

func TestNode_InsertRejectsDuplicateName(t *testing.T) {
	s := New()
	ctx := context.Background()
	n := domain.Node{ID: ids.NewNodeID(), Name: "steady-falcon-1234"}
	_, err := s.InsertNode(ctx, nil, n)
	require.NoError(t, err)

	_, err = s.InsertNode(ctx, nil, domain.Node{ID: ids.NewNodeID(), Name: "steady-falcon-1234"})
	require.Error(t, err)
}

func TestNode_SoftDeleteFreesName(t *testing.T) {
	s := New()
	ctx := context.Background()
	n := domain.Node{ID: ids.NewNodeID(), Name: "steady-falcon-1234"}
	_, err := s.InsertNode(ctx, nil, n)
	require.NoError(t, err)

	require.NoError(t, s.SoftDeleteNode(ctx, nil, n.ID))

	taken, err := s.NameTaken(ctx, n.Name)
	require.NoError(t, err)
	assert.False(t, taken)

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())
}

func TestCatalog_ListBlockchainsFiltersByVisibility(t *testing.T) {
	s := New()
	ctx := context.Background()
	pub := domain.BlockchainVisibility("public")
	priv := domain.BlockchainVisibility("private")
	s.AddBlockchain(domain.Blockchain{ID: ids.NewBlockchainID(), Name: "eth", Visibility: pub})
	s.AddBlockchain(domain.Blockchain{ID: ids.NewBlockchainID(), Name: "internal-chain", Visibility: priv})

	chains, err := s.ListBlockchains(ctx, &pub)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, "eth", chains[0].Name)

	all, err := s.ListBlockchains(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestScheduler_CandidateHostsExcludesDeletedAndExcluded(t *testing.T) {
	s := New()
	ctx := context.Background()
	orgID := ids.NewOrgID()

	live := domain.Host{ID: ids.NewHostID(), OrgID: orgID, CPUCores: 8}
	deletedAt := time.Now()
	deleted := domain.Host{ID: ids.NewHostID(), OrgID: orgID, CPUCores: 8, DeletedAt: &deletedAt}
	s.AddHost(live)
	s.AddHost(deleted)

	candidates, err := s.CandidateHosts(ctx, candidateReq(orgID), nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, live.ID, candidates[0].Host.ID)

	candidates, err = s.CandidateHosts(ctx, candidateReq(orgID), []ids.HostID{live.ID})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
