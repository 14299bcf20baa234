// Package domain holds the entity structs and enumerations of the control
// plane's data model. Enumeration string values are the interop contract
// (§6) and must never be renumbered or renamed.
package domain

import (
	"time"

	"github.com/blockjoy/controlplane/internal/ids"
)

// OrgRole is a membership's role within an org.
type OrgRole string

const (
	OrgRoleOwner  OrgRole = "owner"
	OrgRoleAdmin  OrgRole = "admin"
	OrgRoleMember OrgRole = "member"
)

// HostType distinguishes cloud-rented from privately owned hosts.
type HostType string

const (
	HostTypeCloud   HostType = "cloud"
	HostTypePrivate HostType = "private"
)

// ConnectionStatus reflects whether a host's agent is currently reachable.
type ConnectionStatus string

const (
	ConnectionStatusOnline      ConnectionStatus = "online"
	ConnectionStatusOffline     ConnectionStatus = "offline"
	ConnectionStatusUnreachable ConnectionStatus = "unreachable"
)

// BlockchainVisibility controls who may place nodes against a catalog entry.
type BlockchainVisibility string

const (
	BlockchainVisibilityPublic    BlockchainVisibility = "public"
	BlockchainVisibilityPrivate   BlockchainVisibility = "private"
	BlockchainVisibilityDevelopment BlockchainVisibility = "development"
)

// NetworkType is the maturity tier of a blockchain network entry.
type NetworkType string

const (
	NetworkTypeDev  NetworkType = "dev"
	NetworkTypeTest NetworkType = "test"
	NetworkTypeMain NetworkType = "main"
)

// SimilarityPolicy is a scheduler soft-ordering policy over node co-location.
type SimilarityPolicy string

const (
	SimilarityPolicyNone    SimilarityPolicy = "none"
	SimilarityCluster       SimilarityPolicy = "cluster"
	SimilaritySpread        SimilarityPolicy = "spread"
)

// ResourcePolicy is a scheduler soft-ordering policy over host free resources.
type ResourcePolicy string

const (
	ResourcePolicyNone    ResourcePolicy = "none"
	ResourceMostResources ResourcePolicy = "most_resources"
	ResourceLeastResources ResourcePolicy = "least_resources"
)

// NodeState is the node lifecycle state (§4.6).
type NodeState string

const (
	NodeStateStarting  NodeState = "starting"
	NodeStateRunning   NodeState = "running"
	NodeStateStopped   NodeState = "stopped"
	NodeStateUpgrading NodeState = "upgrading"
	NodeStateDeleting  NodeState = "deleting"
	NodeStateDeleted   NodeState = "deleted"
	NodeStateFailed    NodeState = "failed"
)

// NodeHealth is the agent-reported protocol health of a node.
type NodeHealth string

const (
	NodeHealthUnknown   NodeHealth = "unknown"
	NodeHealthHealthy   NodeHealth = "healthy"
	NodeHealthNeglected NodeHealth = "neglected"
	NodeHealthUnhealthy NodeHealth = "unhealthy"
)

// CommandKind enumerates the directives the control plane may send a host
// agent (§4.7).
type CommandKind string

const (
	CommandCreateNode     CommandKind = "create_node"
	CommandDeleteNode     CommandKind = "delete_node"
	CommandUpdateNode     CommandKind = "update_node"
	CommandRestartNode    CommandKind = "restart_node"
	CommandKillNode       CommandKind = "kill_node"
	CommandUpgradeNode    CommandKind = "upgrade_node"
	CommandCreateBVS      CommandKind = "create_bvs"
	CommandRemoveBVS      CommandKind = "remove_bvs"
	CommandRestartBVS     CommandKind = "restart_bvs"
	CommandStopBVS        CommandKind = "stop_bvs"
	CommandGetNodeVersion CommandKind = "get_node_version"
)

// CommandExitCode enumerates the result an agent reports for a command.
type CommandExitCode string

const (
	CommandExitOk      CommandExitCode = "ok"
	CommandExitRetry   CommandExitCode = "retry"
	CommandExitFailed  CommandExitCode = "failed"
	CommandExitTimeout CommandExitCode = "timeout"
)

// InvitationStatus is the lifecycle state of an org invitation.
type InvitationStatus string

const (
	InvitationOpen      InvitationStatus = "open"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
)

// APIKeyResourceKind is the kind of resource an API key is scoped to.
type APIKeyResourceKind string

const (
	APIKeyResourceUser APIKeyResourceKind = "user"
	APIKeyResourceOrg  APIKeyResourceKind = "org"
	APIKeyResourceHost APIKeyResourceKind = "host"
)

// User is an authenticating principal.
type User struct {
	ID            ids.UserID
	Email         string
	PasswordSalt  string
	PasswordHash  string
	ConfirmedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// IsConfirmed reports whether the user has completed email confirmation.
func (u *User) IsConfirmed() bool { return u.ConfirmedAt != nil }

// IsDeleted reports whether the user has been soft deleted.
func (u *User) IsDeleted() bool { return u.DeletedAt != nil }

// Org is a billing and ownership boundary for hosts, nodes, and memberships.
type Org struct {
	ID        ids.OrgID
	Name      string
	Personal  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (o *Org) IsDeleted() bool { return o.DeletedAt != nil }

// OrgUser is a membership of a user in an org, carrying a role and a
// per-membership host-provisioning token.
type OrgUser struct {
	OrgID          ids.OrgID
	UserID         ids.UserID
	Role           OrgRole
	ProvisionToken string
	CreatedAt      time.Time
}

// Role is a named entry in the static RBAC catalog.
type Role struct {
	Name string
}

// Permission is a named entry in the static RBAC catalog.
type Permission struct {
	Name string
}

// RolePermission is a static role -> permission edge.
type RolePermission struct {
	Role       string
	Permission string
}

// UserRole is a dynamic (user, org, role) assignment.
type UserRole struct {
	UserID ids.UserID
	OrgID  ids.OrgID
	Role   string
}

// Host is a physical or virtual machine running an agent and zero or more
// nodes.
type Host struct {
	ID               ids.HostID
	OrgID            ids.OrgID
	Name             string
	IPAddr           string
	IPGateway        string
	IPRangeFrom      string
	IPRangeTo        string
	CPUCores         int64
	MemoryBytes      int64
	DiskBytes        int64
	OS               string
	Version          string
	RegionID         *ids.RegionID
	HostType         HostType
	MonthlyCostUSD   int64
	ConnectionStatus ConnectionStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

func (h *Host) IsDeleted() bool { return h.DeletedAt != nil }

// HostUsage is the derived resource consumption of a host, computed as a sum
// over its live nodes (§3 "Derived").
type HostUsage struct {
	UsedCPUCores    int64
	UsedMemoryBytes int64
	UsedDiskBytes   int64
	FreeIPCount     int64
}

// FreeCPU returns the host's unreserved CPU cores given current usage.
func (h *Host) FreeCPU(u HostUsage) int64 { return h.CPUCores - u.UsedCPUCores }

// FreeMemory returns the host's unreserved memory bytes given current usage.
func (h *Host) FreeMemory(u HostUsage) int64 { return h.MemoryBytes - u.UsedMemoryBytes }

// FreeDisk returns the host's unreserved disk bytes given current usage.
func (h *Host) FreeDisk(u HostUsage) int64 { return h.DiskBytes - u.UsedDiskBytes }

// IPAddress is one address drawn from a host's range.
type IPAddress struct {
	ID       ids.IPAddressID
	HostID   ids.HostID
	IP       string
	Assigned bool
}

// Region is a named pricing tier referenced by hosts and the scheduler.
type Region struct {
	ID          ids.RegionID
	Name        string
	PricingTier string
}

// Blockchain is the top level of the four-level image catalog.
type Blockchain struct {
	ID         ids.BlockchainID
	Name       string
	Visibility BlockchainVisibility
}

// NodeType is a workload kind offered by a blockchain (e.g. "validator").
type NodeType struct {
	ID           ids.NodeTypeID
	BlockchainID ids.BlockchainID
	Name         string
}

// Version is a pinned software version of a node type, carrying the
// properties and networks available at that version.
type Version struct {
	ID            ids.VersionID
	NodeTypeID    ids.NodeTypeID
	SemVer        string
	MinCPUCores   int64
	MinMemoryBytes int64
	MinDiskBytes  int64
	Properties    []Property
	Networks      []Network
}

// Property is one configurable value exposed by a version.
type Property struct {
	Name           string
	UIType         string
	Default        string
	Required       bool
	DisplayName    string
	ExclusiveGroup string // mutually-exclusive group name; empty means none
	ResourceDelta  ResourceDelta
}

// ResourceDelta is the VM resource adjustment a property value contributes
// (§4.6 step 2).
type ResourceDelta struct {
	CPUCores    int64
	MemoryBytes int64
	DiskBytes   int64
}

// Network is one deployable network for a version (mainnet, testnet, ...).
type Network struct {
	Name string
	URL  string
	Type NetworkType
}

// FirewallRule is one allow/deny entry on a node.
type FirewallRule struct {
	IP          string
	Description string
}

// Job is one agent-reported background task on a node.
type Job struct {
	Name     string
	Status   string
	ExitCode *int
	Message  string
	Logs     []string
	Restarts int
	Progress JobProgress
}

// JobProgress is an agent-reported completion estimate for a Job.
type JobProgress struct {
	Total   int64
	Current int64
	Message string
}

// SchedulerPolicy carries a node's placement preferences, retained so
// retry-on-failure placement (§4.5) can repeat the same policy.
type SchedulerPolicy struct {
	Similarity SimilarityPolicy
	Resource   ResourcePolicy
	RegionID   *ids.RegionID
}

// NodeConfig is the immutable resolved configuration of a node: VM
// resources, property values, and firewall overrides (GLOSSARY).
type NodeConfig struct {
	ID            ids.ConfigID
	NodeID        ids.NodeID
	VersionID     ids.VersionID
	CPUCores      int64
	MemoryBytes   int64
	DiskBytes     int64
	PropertyValues map[string]string
	AllowIPs      []FirewallRule
	DenyIPs       []FirewallRule
	CreatedAt     time.Time
}

// Node is a managed workload pinned to a host.
type Node struct {
	ID                  ids.NodeID
	OrgID               ids.OrgID
	HostID              ids.HostID
	BlockchainID        ids.BlockchainID
	NodeTypeID          ids.NodeTypeID
	VersionID           ids.VersionID
	ConfigID            ids.ConfigID
	Name                string
	IP                  string
	IPGateway           string
	DNSRecordID         string
	CPUCores            int64
	MemoryBytes         int64
	DiskBytes           int64
	AllowIPs            []FirewallRule
	DenyIPs             []FirewallRule
	State               NodeState
	NextState           *NodeState
	ProtocolState       string
	ProtocolHealth      NodeHealth
	Jobs                []Job
	BlockHeight         *int64
	BlockAge            *int64
	Consensus           *bool
	SchedulerPolicy     SchedulerPolicy
	SubscriptionItemID  *string
	CreatedBy           ids.UserID
	SelfUpdate          bool
	AutoUpgrade         bool
	Tags                []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

func (n *Node) IsDeleted() bool { return n.DeletedAt != nil }

// IsLive reports whether the node counts toward host/org resource sums.
func (n *Node) IsLive() bool { return n.DeletedAt == nil }

// Command is a directive from the control plane to a host agent (§4.7).
type Command struct {
	ID               ids.CommandID
	HostID           ids.HostID
	NodeID           *ids.NodeID
	Kind             CommandKind
	SubCommand       string
	CreatedAt        time.Time
	AckedAt          *time.Time
	CompletedAt      *time.Time
	ExitCode         *CommandExitCode
	ExitMessage      string
	RetryHintSeconds *int
}

// IsPending reports whether the agent has not yet acked this command.
func (c *Command) IsPending() bool { return c.AckedAt == nil }

// NodeLogEvent enumerates lifecycle events recorded for scheduler retry
// bookkeeping (§4.5) and audit.
type NodeLogEvent string

const (
	NodeLogCreateStarted   NodeLogEvent = "create_started"
	NodeLogCreateFailed    NodeLogEvent = "create_failed"
	NodeLogCreateSucceeded NodeLogEvent = "create_succeeded"
	NodeLogUpgradeStarted  NodeLogEvent = "upgrade_started"
	NodeLogCancelled       NodeLogEvent = "cancelled"
	NodeLogOrgTransferred  NodeLogEvent = "org_transferred"
)

// NodeLog is an append-only audit record of a node lifecycle event.
type NodeLog struct {
	ID        int64
	NodeID    ids.NodeID
	HostID    ids.HostID
	Event     NodeLogEvent
	CreatedAt time.Time
}

// APIKey is a long-lived credential scoped to a resource.
type APIKey struct {
	ID           ids.APIKeyID
	Label        string
	ResourceKind APIKeyResourceKind
	ResourceID   string
	KeySalt      string
	KeyHash      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Invitation is an open, accepted, or declined org invite.
type Invitation struct {
	ID          ids.InvitationID
	InvitedBy   ids.UserID
	OrgID       ids.OrgID
	InviteeEmail string
	AcceptedAt  *time.Time
	DeclinedAt  *time.Time
	CreatedAt   time.Time
}

func (i *Invitation) IsOpen() bool { return i.AcceptedAt == nil && i.DeclinedAt == nil }

// Subscription links an org/user to an external billing customer.
type Subscription struct {
	ID         ids.SubscriptionID
	OrgID      ids.OrgID
	UserID     ids.UserID
	ExternalID string
	CreatedAt  time.Time
}

// HostProvision is a one-time claim a new physical host redeems for its
// long-lived host bearer token (supplemented feature, see SPEC_FULL.md).
type HostProvision struct {
	ID              string
	OrgID           ids.OrgID
	ClaimsTemplate  map[string]string
	CreatedAt       time.Time
	ClaimedAt       *time.Time
}
