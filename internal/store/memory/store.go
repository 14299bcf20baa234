// Package memory implements every store interface the control plane needs
// (rbac.Store, authz.MembershipLookup, command.Store, scheduler.Store,
// accounting.Store, node.Store, catalog.Store) as in-process,
// mutex-guarded maps, grounded on infrastructure/state.MemoryBackend's
// sync.RWMutex-over-map convention. Used by tests and as a zero-dependency
// local-dev backend; internal/store/postgres is the real one.
package memory

import (
	"context"
	"sync"
	"time"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
	"github.com/blockjoy/controlplane/internal/node"
	"github.com/blockjoy/controlplane/internal/outbox"
	"github.com/blockjoy/controlplane/internal/scheduler"
)

// Store is a single in-memory backend satisfying every component's Store
// interface.
type Store struct {
	mu sync.RWMutex

	roles     map[string]domain.Role
	perms     map[string]domain.Permission
	rolePerms map[string][]string // role -> permissions
	userRoles []domain.UserRole
	orgUsers  []domain.OrgUser

	hosts       map[ids.HostID]domain.Host
	ipAddresses map[ids.IPAddressID]domain.IPAddress

	blockchains map[ids.BlockchainID]domain.Blockchain
	nodeTypes   map[ids.NodeTypeID]domain.NodeType
	versions    map[ids.VersionID]domain.Version

	nodes   map[ids.NodeID]domain.Node
	names   map[string]bool
	configs map[ids.ConfigID]domain.NodeConfig
	logs    []domain.NodeLog

	commands map[ids.CommandID]domain.Command

	subscriptions map[string]domain.Subscription // keyed by ExternalID

	apiKeys        map[ids.APIKeyID]domain.APIKey
	invitations    map[ids.InvitationID]domain.Invitation
	hostProvisions map[string]domain.HostProvision
}

// New builds an empty in-memory Store.
func New() *Store {
	return &Store{
		roles:         map[string]domain.Role{},
		perms:         map[string]domain.Permission{},
		rolePerms:     map[string][]string{},
		hosts:         map[ids.HostID]domain.Host{},
		ipAddresses:   map[ids.IPAddressID]domain.IPAddress{},
		blockchains:   map[ids.BlockchainID]domain.Blockchain{},
		nodeTypes:     map[ids.NodeTypeID]domain.NodeType{},
		versions:      map[ids.VersionID]domain.Version{},
		nodes:         map[ids.NodeID]domain.Node{},
		names:         map[string]bool{},
		configs:       map[ids.ConfigID]domain.NodeConfig{},
		commands:      map[ids.CommandID]domain.Command{},
		subscriptions: map[string]domain.Subscription{},

		apiKeys:        map[ids.APIKeyID]domain.APIKey{},
		invitations:    map[ids.InvitationID]domain.Invitation{},
		hostProvisions: map[string]domain.HostProvision{},
	}
}

// --- rbac.Store ---

func (s *Store) SeedRoles(ctx context.Context, roles []domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range roles {
		if _, ok := s.roles[r.Name]; !ok {
			s.roles[r.Name] = r
		}
	}
	return nil
}

func (s *Store) SeedPermissions(ctx context.Context, perms []domain.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		if _, ok := s.perms[p.Name]; !ok {
			s.perms[p.Name] = p
		}
	}
	return nil
}

func (s *Store) SeedRolePermissions(ctx context.Context, edges []domain.RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		existing := s.rolePerms[e.Role]
		found := false
		for _, p := range existing {
			if p == e.Permission {
				found = true
				break
			}
		}
		if !found {
			s.rolePerms[e.Role] = append(existing, e.Permission)
		}
	}
	return nil
}

func (s *Store) GrantRole(ctx context.Context, userID ids.UserID, orgID ids.OrgID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ur := range s.userRoles {
		if ur.UserID == userID && ur.OrgID == orgID && ur.Role == role {
			return nil
		}
	}
	s.userRoles = append(s.userRoles, domain.UserRole{UserID: userID, OrgID: orgID, Role: role})
	return nil
}

func (s *Store) RevokeRole(ctx context.Context, userID ids.UserID, orgID ids.OrgID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.UserRole
	for _, ur := range s.userRoles {
		if ur.UserID == userID && ur.OrgID == orgID && ur.Role == role {
			continue
		}
		kept = append(kept, ur)
	}
	s.userRoles = kept
	return nil
}

func (s *Store) RolesForUser(ctx context.Context, userID ids.UserID) ([]domain.UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.UserRole
	for _, ur := range s.userRoles {
		if ur.UserID == userID {
			out = append(out, ur)
		}
	}
	return out, nil
}

func (s *Store) PermissionsForRole(ctx context.Context, role string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.rolePerms[role]...), nil
}

// --- authz.MembershipLookup ---

func (s *Store) IsOrgMember(ctx context.Context, userID ids.UserID, orgID ids.OrgID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ou := range s.orgUsers {
		if ou.UserID == userID && ou.OrgID == orgID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) OrgForHost(ctx context.Context, hostID ids.HostID) (ids.OrgID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var none ids.OrgID
	host, ok := s.hosts[hostID]
	if !ok {
		return none, svcerrors.NotFound("host", hostID.String())
	}
	return host.OrgID, nil
}

func (s *Store) OrgForNode(ctx context.Context, nodeID ids.NodeID) (ids.OrgID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var none ids.OrgID
	n, ok := s.nodes[nodeID]
	if !ok {
		return none, svcerrors.NotFound("node", nodeID.String())
	}
	return n.OrgID, nil
}

func (s *Store) HostForNode(ctx context.Context, nodeID ids.NodeID) (ids.HostID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var none ids.HostID
	n, ok := s.nodes[nodeID]
	if !ok {
		return none, svcerrors.NotFound("node", nodeID.String())
	}
	return n.HostID, nil
}

// --- command.Store ---

func (s *Store) InsertCommand(ctx context.Context, w *outbox.WriteConn, cmd domain.Command) (domain.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[cmd.ID] = cmd
	return cmd, nil
}

func (s *Store) PendingCommands(ctx context.Context, hostID ids.HostID) ([]domain.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Command
	for _, c := range s.commands {
		if c.HostID == hostID && c.IsPending() {
			out = append(out, c)
		}
	}
	sortCommandsByCreatedAt(out)
	return out, nil
}

func (s *Store) AckCommand(ctx context.Context, cmdID ids.CommandID, exitCode domain.CommandExitCode, exitMessage string, retryHintSeconds *int) (domain.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[cmdID]
	if !ok {
		return domain.Command{}, svcerrors.NotFound("command", cmdID.String())
	}
	now := currentTime()
	cmd.AckedAt = &now
	cmd.CompletedAt = &now
	cmd.ExitCode = &exitCode
	cmd.ExitMessage = exitMessage
	cmd.RetryHintSeconds = retryHintSeconds
	s.commands[cmdID] = cmd
	return cmd, nil
}

func (s *Store) DeletePendingForNode(ctx context.Context, w *outbox.WriteConn, nodeID ids.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.commands {
		if c.NodeID != nil && *c.NodeID == nodeID && c.IsPending() {
			delete(s.commands, id)
		}
	}
	return nil
}

func (s *Store) GetCommand(ctx context.Context, cmdID ids.CommandID) (domain.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cmd, ok := s.commands[cmdID]
	if !ok {
		return domain.Command{}, svcerrors.NotFound("command", cmdID.String())
	}
	return cmd, nil
}

// --- scheduler.Store & node.Store share WriteNodeLog/GetVersion ---

func (s *Store) WriteNodeLog(ctx context.Context, nodeID ids.NodeID, hostID ids.HostID, event domain.NodeLogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, domain.NodeLog{
		ID:        int64(len(s.logs) + 1),
		NodeID:    nodeID,
		HostID:    hostID,
		Event:     event,
		CreatedAt: currentTime(),
	})
	return nil
}

func (s *Store) CandidateHosts(ctx context.Context, req scheduler.PlacementRequest, excludeHostIDs []ids.HostID) ([]scheduler.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := make(map[ids.HostID]bool, len(excludeHostIDs))
	for _, id := range excludeHostIDs {
		excluded[id] = true
	}

	var out []scheduler.Candidate
	for _, h := range s.hosts {
		if h.IsDeleted() || excluded[h.ID] {
			continue
		}
		if req.RegionID != nil && (h.RegionID == nil || *h.RegionID != *req.RegionID) {
			continue
		}
		if req.HostType != nil && h.HostType != *req.HostType {
			continue
		}
		usage := s.hostUsageLocked(h.ID)
		out = append(out, scheduler.Candidate{
			Host:             h,
			Usage:            usage,
			FreeIPCount:      usage.FreeIPCount,
			SimilarNodeCount: s.similarNodeCountLocked(h.ID, req.OrgID),
		})
	}
	return out, nil
}

func (s *Store) similarNodeCountLocked(hostID ids.HostID, orgID ids.OrgID) int64 {
	var count int64
	for _, n := range s.nodes {
		if n.HostID == hostID && n.OrgID == orgID && n.IsLive() {
			count++
		}
	}
	return count
}

func (s *Store) hostUsageLocked(hostID ids.HostID) domain.HostUsage {
	var usage domain.HostUsage
	for _, n := range s.nodes {
		if n.HostID != hostID || !n.IsLive() {
			continue
		}
		usage.UsedCPUCores += n.CPUCores
		usage.UsedMemoryBytes += n.MemoryBytes
		usage.UsedDiskBytes += n.DiskBytes
	}
	for _, ip := range s.ipAddresses {
		if ip.HostID == hostID && !ip.Assigned {
			usage.FreeIPCount++
		}
	}
	return usage
}

// --- accounting.Store ---

func (s *Store) InsertIPAddresses(ctx context.Context, ips []domain.IPAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ip := range ips {
		s.ipAddresses[ip.ID] = ip
	}
	return nil
}

func (s *Store) ReserveIP(ctx context.Context, hostID ids.HostID) (domain.IPAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ip := range s.ipAddresses {
		if ip.HostID == hostID && !ip.Assigned {
			ip.Assigned = true
			s.ipAddresses[id] = ip
			return ip, nil
		}
	}
	return domain.IPAddress{}, svcerrors.ResourceExhausted("no free ip address on host")
}

func (s *Store) ReleaseIP(ctx context.Context, ipID ids.IPAddressID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ip, ok := s.ipAddresses[ipID]
	if !ok {
		return svcerrors.NotFound("ip_address", ipID.String())
	}
	ip.Assigned = false
	s.ipAddresses[ipID] = ip
	return nil
}

func (s *Store) HostUsage(ctx context.Context, hostID ids.HostID) (domain.HostUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hostUsageLocked(hostID), nil
}

func (s *Store) NodeCountForOrg(ctx context.Context, orgID ids.OrgID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, n := range s.nodes {
		if n.OrgID == orgID && n.IsLive() {
			count++
		}
	}
	return count, nil
}

func (s *Store) NodeCountForHost(ctx context.Context, hostID ids.HostID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, n := range s.nodes {
		if n.HostID == hostID && n.IsLive() {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateSubscriptionItem(ctx context.Context, orgID ids.OrgID, userID ids.UserID, externalID string) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := domain.Subscription{
		ID:         ids.NewSubscriptionID(),
		OrgID:      orgID,
		UserID:     userID,
		ExternalID: externalID,
		CreatedAt:  currentTime(),
	}
	s.subscriptions[externalID] = sub
	return sub, nil
}

func (s *Store) DeleteSubscriptionItem(ctx context.Context, subscriptionItemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, subscriptionItemID)
	return nil
}

func (s *Store) SweepStaleCommands(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := currentTime().Add(-olderThan)
	var swept int64
	for id, c := range s.commands {
		if c.IsPending() && c.CreatedAt.Before(cutoff) {
			delete(s.commands, id)
			swept++
		}
	}
	return swept, nil
}

// --- node.Store ---

func (s *Store) InsertNode(ctx context.Context, w *outbox.WriteConn, n domain.Node) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names[n.Name] {
		return domain.Node{}, svcerrors.AlreadyExists("node", n.Name)
	}
	s.nodes[n.ID] = n
	s.names[n.Name] = true
	return n, nil
}

func (s *Store) GetNode(ctx context.Context, nodeID ids.NodeID) (domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return domain.Node{}, svcerrors.NotFound("node", nodeID.String())
	}
	return n, nil
}

func (s *Store) NameTaken(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.names[name], nil
}

func (s *Store) SetNodeState(ctx context.Context, w *outbox.WriteConn, nodeID ids.NodeID, state domain.NodeState, next *domain.NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return svcerrors.NotFound("node", nodeID.String())
	}
	n.State = state
	n.NextState = next
	n.UpdatedAt = currentTime()
	s.nodes[nodeID] = n
	return nil
}

func (s *Store) ApplyStatusUpdate(ctx context.Context, nodeID ids.NodeID, update node.StatusUpdate) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return domain.Node{}, svcerrors.NotFound("node", nodeID.String())
	}
	if update.ProtocolState != nil {
		n.ProtocolState = *update.ProtocolState
	}
	if update.ProtocolHealth != nil {
		n.ProtocolHealth = *update.ProtocolHealth
	}
	if update.Jobs != nil {
		n.Jobs = *update.Jobs
	}
	if update.BlockHeight != nil {
		n.BlockHeight = update.BlockHeight
	}
	if update.BlockAge != nil {
		n.BlockAge = update.BlockAge
	}
	if update.Consensus != nil {
		n.Consensus = update.Consensus
	}
	n.UpdatedAt = currentTime()
	s.nodes[nodeID] = n
	return n, nil
}

func (s *Store) SoftDeleteNode(ctx context.Context, w *outbox.WriteConn, nodeID ids.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return svcerrors.NotFound("node", nodeID.String())
	}
	if n.DeletedAt == nil {
		now := currentTime()
		n.DeletedAt = &now
		n.State = domain.NodeStateDeleted
		delete(s.names, n.Name)
	}
	s.nodes[nodeID] = n
	return nil
}

func (s *Store) InsertNodeConfig(ctx context.Context, w *outbox.WriteConn, cfg domain.NodeConfig) (domain.NodeConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = cfg
	return cfg, nil
}

func (s *Store) GetHost(ctx context.Context, hostID ids.HostID) (domain.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hosts[hostID]
	if !ok {
		return domain.Host{}, svcerrors.NotFound("host", hostID.String())
	}
	return h, nil
}

// --- catalog.Store ---

func (s *Store) ListBlockchains(ctx context.Context, visibility *domain.BlockchainVisibility) ([]domain.Blockchain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Blockchain
	for _, b := range s.blockchains {
		if visibility == nil || b.Visibility == *visibility {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) GetBlockchain(ctx context.Context, blockchainID ids.BlockchainID) (domain.Blockchain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blockchains[blockchainID]
	if !ok {
		return domain.Blockchain{}, svcerrors.NotFound("blockchain", blockchainID.String())
	}
	return b, nil
}

func (s *Store) ListNodeTypes(ctx context.Context, blockchainID ids.BlockchainID) ([]domain.NodeType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.NodeType
	for _, nt := range s.nodeTypes {
		if nt.BlockchainID == blockchainID {
			out = append(out, nt)
		}
	}
	return out, nil
}

func (s *Store) GetNodeType(ctx context.Context, nodeTypeID ids.NodeTypeID) (domain.NodeType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nt, ok := s.nodeTypes[nodeTypeID]
	if !ok {
		return domain.NodeType{}, svcerrors.NotFound("node_type", nodeTypeID.String())
	}
	return nt, nil
}

func (s *Store) ListVersions(ctx context.Context, nodeTypeID ids.NodeTypeID) ([]domain.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Version
	for _, v := range s.versions {
		if v.NodeTypeID == nodeTypeID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) GetVersion(ctx context.Context, versionID ids.VersionID) (domain.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[versionID]
	if !ok {
		return domain.Version{}, svcerrors.NotFound("version", versionID.String())
	}
	return v, nil
}

// --- seed helpers, used by cmd/controlplaned and tests; not part of any
// component interface ---

func (s *Store) AddOrgMembership(ou domain.OrgUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgUsers = append(s.orgUsers, ou)
}

func (s *Store) AddHost(h domain.Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[h.ID] = h
}

func (s *Store) AddIPAddress(ip domain.IPAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ipAddresses[ip.ID] = ip
}

func (s *Store) AddBlockchain(b domain.Blockchain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockchains[b.ID] = b
}

func (s *Store) AddNodeType(nt domain.NodeType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeTypes[nt.ID] = nt
}

func (s *Store) AddVersion(v domain.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[v.ID] = v
}

func sortCommandsByCreatedAt(cmds []domain.Command) {
	for i := 1; i < len(cmds); i++ {
		for j := i; j > 0 && cmds[j].CreatedAt.Before(cmds[j-1].CreatedAt); j-- {
			cmds[j], cmds[j-1] = cmds[j-1], cmds[j]
		}
	}
}

// currentTime is the single place this package reads the clock, so tests
// can see it's the only non-deterministic surface in an otherwise pure map.
func currentTime() time.Time { return time.Now() }
