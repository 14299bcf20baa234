// Package node implements C6: the node lifecycle state machine and its
// Create/Upgrade/Delete/status-update operations (§4.6). This is the
// largest component of the control plane.
package node

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/infrastructure/logging"
	"github.com/blockjoy/controlplane/internal/accounting"
	"github.com/blockjoy/controlplane/internal/command"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
	"github.com/blockjoy/controlplane/internal/outbox"
	"github.com/blockjoy/controlplane/internal/scheduler"
)

// Store is the persistence boundary Lifecycle needs beyond what
// scheduler.Store/command.Store/accounting.Store already cover.
type Store interface {
	InsertNode(ctx context.Context, w *outbox.WriteConn, n domain.Node) (domain.Node, error)
	GetNode(ctx context.Context, nodeID ids.NodeID) (domain.Node, error)
	NameTaken(ctx context.Context, name string) (bool, error)
	SetNodeState(ctx context.Context, w *outbox.WriteConn, nodeID ids.NodeID, state domain.NodeState, next *domain.NodeState) error
	ApplyStatusUpdate(ctx context.Context, nodeID ids.NodeID, update StatusUpdate) (domain.Node, error)
	SoftDeleteNode(ctx context.Context, w *outbox.WriteConn, nodeID ids.NodeID) error
	InsertNodeConfig(ctx context.Context, w *outbox.WriteConn, cfg domain.NodeConfig) (domain.NodeConfig, error)
	WriteNodeLog(ctx context.Context, nodeID ids.NodeID, hostID ids.HostID, event domain.NodeLogEvent) error
	GetVersion(ctx context.Context, versionID ids.VersionID) (domain.Version, error)
	GetHost(ctx context.Context, hostID ids.HostID) (domain.Host, error)
}

// DNS manages the DNS record lifecycle for a node's assigned IP.
type DNS interface {
	CreateRecord(ctx context.Context, name, ip string) (recordID string, err error)
	DeleteRecord(ctx context.Context, recordID string) error
}

// Secrets manages the node-scoped secret store at node/{id}/secret/* (the
// §9 supplemented feature), used to seed an upgraded/replaced node's
// secrets from its predecessor and to purge them on deletion.
type Secrets interface {
	CopySecrets(ctx context.Context, fromNodeID, toNodeID ids.NodeID) error
	DeleteSecrets(ctx context.Context, nodeID ids.NodeID) error
}

// StatusUpdate is a partial, agent-reported status merge (§4.6
// "status-update partial-merge semantics"): nil fields are left untouched.
type StatusUpdate struct {
	ProtocolState  *string
	ProtocolHealth *domain.NodeHealth
	Jobs           *[]domain.Job
	BlockHeight    *int64
	BlockAge       *int64
	Consensus      *bool
}

// CreateRequest is the caller-supplied input to Create.
type CreateRequest struct {
	OrgID           ids.OrgID
	CreatedBy       ids.UserID
	BlockchainID    ids.BlockchainID
	NodeTypeID      ids.NodeTypeID
	VersionID       ids.VersionID
	PropertyValues  map[string]string
	AllowIPs        []domain.FirewallRule
	DenyIPs         []domain.FirewallRule
	Policy          domain.SchedulerPolicy
	CopySecretsFrom *ids.NodeID
}

// Lifecycle is C6.
type Lifecycle struct {
	store      Store
	scheduler  *scheduler.Scheduler
	commands   *command.Queue
	accounting *accounting.Accounting
	drainer    *outbox.Drainer
	dns        DNS
	secrets    Secrets
	log        *logging.Logger
}

// New builds a Lifecycle. drainer is shared with every other component that
// writes through a WriteConn, so a single commit-then-publish boundary
// serves the whole control plane (§4.8).
func New(store Store, sched *scheduler.Scheduler, commands *command.Queue, acct *accounting.Accounting, drainer *outbox.Drainer, dns DNS, secrets Secrets, log *logging.Logger) *Lifecycle {
	return &Lifecycle{store: store, scheduler: sched, commands: commands, accounting: acct, drainer: drainer, dns: dns, secrets: secrets, log: log}
}

// resolveProperties merges the version's declared properties with caller
// overrides, enforcing that at most one value is set within each
// mutually-exclusive group, and sums each property's ResourceDelta into the
// VM's base resource requirement (§4.6 Create step 2).
func resolveProperties(version domain.Version, overrides map[string]string) (map[string]string, domain.ResourceDelta, error) {
	resolved := make(map[string]string, len(version.Properties))
	groupSet := map[string]string{}
	var totalDelta domain.ResourceDelta

	for _, prop := range version.Properties {
		value := prop.Default
		if v, ok := overrides[prop.Name]; ok {
			value = v
		}
		if prop.Required && value == "" {
			return nil, domain.ResourceDelta{}, svcerrors.InvalidInput(prop.Name, "required property missing a value")
		}
		if value != prop.Default && prop.ExclusiveGroup != "" {
			if existing, ok := groupSet[prop.ExclusiveGroup]; ok && existing != prop.Name {
				return nil, domain.ResourceDelta{}, svcerrors.Conflict(
					fmt.Sprintf("properties %q and %q are mutually exclusive", existing, prop.Name))
			}
			groupSet[prop.ExclusiveGroup] = prop.Name
		}
		resolved[prop.Name] = value
		if value != prop.Default {
			totalDelta.CPUCores += prop.ResourceDelta.CPUCores
			totalDelta.MemoryBytes += prop.ResourceDelta.MemoryBytes
			totalDelta.DiskBytes += prop.ResourceDelta.DiskBytes
		}
	}
	return resolved, totalDelta, nil
}

// Create runs the full §4.6 Create pipeline: resolve the property/firewall
// overlay, compute VM resources, place the node via the scheduler's retry
// loop, reserve an IP and generate a DNS-safe name, create the DNS record
// and billing item, copy secrets from a predecessor if requested, write the
// node row and its config, and enqueue CreateNode. A failure at any step
// after DNS record creation rolls the DNS record back; a failure reported
// later by the agent (non-success CreateNode ack) is handled by
// HandleCreateFailure, which enqueues a compensating DeleteNode and does not
// place the node again.
func (l *Lifecycle) Create(ctx context.Context, begin func(ctx context.Context) (*outbox.WriteConn, error), req CreateRequest) (domain.Node, error) {
	version, err := l.store.GetVersion(ctx, req.VersionID)
	if err != nil {
		return domain.Node{}, svcerrors.NotFound("version", req.VersionID.String())
	}

	propertyValues, delta, err := resolveProperties(version, req.PropertyValues)
	if err != nil {
		return domain.Node{}, err
	}

	need := scheduler.Requirement{
		CPUCores:    version.MinCPUCores + delta.CPUCores,
		MemoryBytes: version.MinMemoryBytes + delta.MemoryBytes,
		DiskBytes:   version.MinDiskBytes + delta.DiskBytes,
	}

	placementReq := scheduler.PlacementRequest{
		OrgID:  req.OrgID,
		Need:   need,
		Policy: req.Policy,
	}

	nodeID := ids.NewNodeID()
	var created domain.Node

	hostID, err := l.scheduler.PlaceWithRetry(ctx, nodeID, placementReq, func(candidate ids.HostID) (bool, error) {
		host, err := l.store.GetHost(ctx, candidate)
		if err != nil {
			return false, nil
		}

		ip, err := l.accounting.ReserveIP(ctx, candidate)
		if err != nil {
			return false, nil
		}

		name, err := l.generateUniqueName(ctx)
		if err != nil {
			return false, err
		}

		recordID, err := l.dns.CreateRecord(ctx, name, ip.IP)
		if err != nil {
			_ = l.accounting.ReleaseIP(ctx, ip.ID)
			return false, nil
		}

		w, err := begin(ctx)
		if err != nil {
			_ = l.dns.DeleteRecord(ctx, recordID)
			_ = l.accounting.ReleaseIP(ctx, ip.ID)
			return false, err
		}

		sub, err := l.accounting.CreateSubscriptionItem(ctx, req.OrgID, req.CreatedBy, nodeID.String())
		if err != nil {
			_ = w.Abort()
			_ = l.dns.DeleteRecord(ctx, recordID)
			_ = l.accounting.ReleaseIP(ctx, ip.ID)
			return false, err
		}

		n := domain.Node{
			ID:              nodeID,
			OrgID:           req.OrgID,
			HostID:          candidate,
			BlockchainID:    req.BlockchainID,
			NodeTypeID:      req.NodeTypeID,
			VersionID:       req.VersionID,
			Name:            name,
			IP:              ip.IP,
			IPGateway:       host.IPGateway,
			DNSRecordID:     recordID,
			CPUCores:        need.CPUCores,
			MemoryBytes:     need.MemoryBytes,
			DiskBytes:       need.DiskBytes,
			AllowIPs:        req.AllowIPs,
			DenyIPs:         req.DenyIPs,
			State:           domain.NodeStateStarting,
			ProtocolHealth:  domain.NodeHealthUnknown,
			SchedulerPolicy: req.Policy,
			SubscriptionItemID: &sub.ExternalID,
			CreatedBy:       req.CreatedBy,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}

		n, err = l.store.InsertNode(ctx, w, n)
		if err != nil {
			_ = w.Abort()
			_ = l.accounting.FreeSubscriptionItem(ctx, sub.ExternalID)
			_ = l.dns.DeleteRecord(ctx, recordID)
			_ = l.accounting.ReleaseIP(ctx, ip.ID)
			return false, nil
		}

		cfg := domain.NodeConfig{
			ID:             ids.NewConfigID(),
			NodeID:         nodeID,
			VersionID:      req.VersionID,
			CPUCores:       need.CPUCores,
			MemoryBytes:    need.MemoryBytes,
			DiskBytes:      need.DiskBytes,
			PropertyValues: propertyValues,
			AllowIPs:       req.AllowIPs,
			DenyIPs:        req.DenyIPs,
			CreatedAt:      time.Now(),
		}
		if _, err := l.store.InsertNodeConfig(ctx, w, cfg); err != nil {
			_ = w.Abort()
			_ = l.accounting.FreeSubscriptionItem(ctx, sub.ExternalID)
			_ = l.dns.DeleteRecord(ctx, recordID)
			_ = l.accounting.ReleaseIP(ctx, ip.ID)
			return false, nil
		}

		if req.CopySecretsFrom != nil {
			if err := l.secrets.CopySecrets(ctx, *req.CopySecretsFrom, nodeID); err != nil {
				l.log.WithError(err).Error("node create: copy secrets from predecessor failed")
			}
		}

		if _, err := l.commands.Enqueue(ctx, w, candidate, &nodeID, domain.CommandCreateNode, ""); err != nil {
			_ = w.Abort()
			_ = l.accounting.FreeSubscriptionItem(ctx, sub.ExternalID)
			_ = l.dns.DeleteRecord(ctx, recordID)
			_ = l.accounting.ReleaseIP(ctx, ip.ID)
			return false, nil
		}

		if err := l.store.WriteNodeLog(ctx, nodeID, candidate, domain.NodeLogCreateStarted); err != nil {
			l.log.WithError(err).Error("node create: write create_started log failed")
		}

		if err := l.drainer.Commit(ctx, w); err != nil {
			_ = l.accounting.FreeSubscriptionItem(ctx, sub.ExternalID)
			_ = l.dns.DeleteRecord(ctx, recordID)
			_ = l.accounting.ReleaseIP(ctx, ip.ID)
			return false, svcerrors.DatabaseError("commit node create", err)
		}

		created = n
		return true, nil
	})
	if err != nil {
		return domain.Node{}, err
	}
	_ = hostID
	return created, nil
}

// CreateBatch fans a set of independent CreateRequests out across goroutines,
// one per node, since each request's DNS/IP-reservation/placement steps are
// already serialized internally by Create and don't share any mutable state
// beyond the Store/Scheduler/Accounting the Lifecycle already guards.
// errgroup.Wait returns the first failure; nodes whose own Create already
// committed before a sibling failed are left in place (Delete is the
// caller's tool for cleaning those up, same as the single-node error path).
func (l *Lifecycle) CreateBatch(ctx context.Context, begin func(ctx context.Context) (*outbox.WriteConn, error), reqs []CreateRequest) ([]domain.Node, error) {
	results := make([]domain.Node, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			n, err := l.Create(gctx, begin, req)
			if err != nil {
				return err
			}
			results[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// generateUniqueName produces a DNS-safe petname (two lowercase words and a
// short numeric suffix), retrying on a name collision the way the teacher's
// ID-generation helpers retry on a unique-constraint violation.
func (l *Lifecycle) generateUniqueName(ctx context.Context) (string, error) {
	const maxAttempts = 10
	for i := 0; i < maxAttempts; i++ {
		name, err := randomPetname()
		if err != nil {
			return "", svcerrors.Internal("generate node name", err)
		}
		taken, err := l.store.NameTaken(ctx, name)
		if err != nil {
			return "", svcerrors.DatabaseError("check node name", err)
		}
		if !taken {
			return name, nil
		}
	}
	return "", svcerrors.Conflict("could not generate a unique node name")
}

var petnameAdjectives = []string{"quiet", "amber", "brisk", "civic", "dusty", "eager", "frank", "giant", "humble", "ionic"}
var petnameNouns = []string{"falcon", "harbor", "meadow", "cinder", "willow", "basalt", "quartz", "summit", "copper", "delta"}

func randomPetname() (string, error) {
	adjIdx, err := rand.Int(rand.Reader, big.NewInt(int64(len(petnameAdjectives))))
	if err != nil {
		return "", err
	}
	nounIdx, err := rand.Int(rand.Reader, big.NewInt(int64(len(petnameNouns))))
	if err != nil {
		return "", err
	}
	suffix, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", petnameAdjectives[adjIdx.Int64()], petnameNouns[nounIdx.Int64()], suffix.Int64()), nil
}

// UpgradeRequest carries only the property values the caller explicitly
// changed; anything absent keeps its current value (§4.6 Upgrade "preserve
// only non-default/caller-modified values").
type UpgradeRequest struct {
	VersionID      ids.VersionID
	PropertyValues map[string]string
}

// Upgrade transitions a node through Upgrading back to Running, diffing the
// new version's config against the node's current property values so only
// values the caller actually changed (or that are non-default) survive the
// version bump (§4.6 Upgrade).
func (l *Lifecycle) Upgrade(ctx context.Context, begin func(ctx context.Context) (*outbox.WriteConn, error), nodeID ids.NodeID, req UpgradeRequest) (domain.Node, error) {
	n, err := l.store.GetNode(ctx, nodeID)
	if err != nil {
		return domain.Node{}, svcerrors.NotFound("node", nodeID.String())
	}
	if n.IsDeleted() {
		return domain.Node{}, svcerrors.PreconditionFailed("node is deleted")
	}

	version, err := l.store.GetVersion(ctx, req.VersionID)
	if err != nil {
		return domain.Node{}, svcerrors.NotFound("version", req.VersionID.String())
	}

	merged, delta, err := resolveProperties(version, req.PropertyValues)
	if err != nil {
		return domain.Node{}, err
	}

	w, err := begin(ctx)
	if err != nil {
		return domain.Node{}, svcerrors.DatabaseError("begin upgrade transaction", err)
	}

	if err := l.store.SetNodeState(ctx, w, nodeID, domain.NodeStateUpgrading, nil); err != nil {
		_ = w.Abort()
		return domain.Node{}, svcerrors.DatabaseError("set upgrading state", err)
	}

	cfg := domain.NodeConfig{
		ID:          ids.NewConfigID(),
		NodeID:      nodeID,
		VersionID:   req.VersionID,
		CPUCores:    version.MinCPUCores + delta.CPUCores,
		MemoryBytes: version.MinMemoryBytes + delta.MemoryBytes,
		DiskBytes:   version.MinDiskBytes + delta.DiskBytes,
		PropertyValues: merged,
		AllowIPs:    n.AllowIPs,
		DenyIPs:     n.DenyIPs,
		CreatedAt:   time.Now(),
	}
	if _, err := l.store.InsertNodeConfig(ctx, w, cfg); err != nil {
		_ = w.Abort()
		return domain.Node{}, svcerrors.DatabaseError("insert upgraded config", err)
	}

	if _, err := l.commands.Enqueue(ctx, w, n.HostID, &nodeID, domain.CommandUpgradeNode, ""); err != nil {
		_ = w.Abort()
		return domain.Node{}, svcerrors.DatabaseError("enqueue upgrade command", err)
	}

	if err := l.store.WriteNodeLog(ctx, nodeID, n.HostID, domain.NodeLogUpgradeStarted); err != nil {
		l.log.WithError(err).Error("node upgrade: write upgrade_started log failed")
	}

	if err := l.drainer.Commit(ctx, w); err != nil {
		return domain.Node{}, svcerrors.DatabaseError("commit node upgrade", err)
	}

	n.VersionID = req.VersionID
	n.State = domain.NodeStateUpgrading
	return n, nil
}

// Delete soft-deletes a node and tears down its external resources. DNS
// and secret cleanup failures are logged and swallowed rather than
// aborting the delete — the node must disappear from the control plane
// even if a downstream cleanup call fails (§4.6 Delete failure semantics).
func (l *Lifecycle) Delete(ctx context.Context, begin func(ctx context.Context) (*outbox.WriteConn, error), nodeID ids.NodeID) error {
	n, err := l.store.GetNode(ctx, nodeID)
	if err != nil {
		return svcerrors.NotFound("node", nodeID.String())
	}
	if n.IsDeleted() {
		return nil
	}

	w, err := begin(ctx)
	if err != nil {
		return svcerrors.DatabaseError("begin delete transaction", err)
	}

	deletedState := domain.NodeStateDeleted
	if err := l.store.SetNodeState(ctx, w, nodeID, domain.NodeStateDeleting, &deletedState); err != nil {
		_ = w.Abort()
		return svcerrors.DatabaseError("set deleting state", err)
	}

	if err := l.commands.DeletePendingForNode(ctx, w, nodeID); err != nil {
		_ = w.Abort()
		return err
	}

	if _, err := l.commands.Enqueue(ctx, w, n.HostID, &nodeID, domain.CommandDeleteNode, nodeID.String()); err != nil {
		_ = w.Abort()
		return svcerrors.DatabaseError("enqueue delete command", err)
	}

	if err := l.store.SoftDeleteNode(ctx, w, nodeID); err != nil {
		_ = w.Abort()
		return svcerrors.DatabaseError("soft delete node", err)
	}

	if err := l.drainer.Commit(ctx, w); err != nil {
		return svcerrors.DatabaseError("commit node delete", err)
	}

	if n.SubscriptionItemID != nil {
		if err := l.accounting.FreeSubscriptionItem(ctx, *n.SubscriptionItemID); err != nil {
			l.log.WithError(err).Error("node delete: free subscription item failed")
		}
	}

	if n.DNSRecordID != "" {
		if err := l.dns.DeleteRecord(ctx, n.DNSRecordID); err != nil {
			l.log.WithError(err).Error("node delete: dns record cleanup failed")
		}
	}

	if err := l.secrets.DeleteSecrets(ctx, nodeID); err != nil {
		l.log.WithError(err).Error("node delete: secret cleanup failed")
	}

	return nil
}

// UpdateStatus applies an agent-reported partial status merge (§4.6
// "status-update partial-merge semantics"): only non-nil fields in update
// replace the node's current values.
func (l *Lifecycle) UpdateStatus(ctx context.Context, nodeID ids.NodeID, update StatusUpdate) (domain.Node, error) {
	n, err := l.store.ApplyStatusUpdate(ctx, nodeID, update)
	if err != nil {
		return domain.Node{}, svcerrors.DatabaseError("apply status update", err)
	}
	return n, nil
}

// HandleCreateFailure is the command.RetryHook cmd/controlplaned registers
// for CommandCreateNode: a non-success ack enqueues a compensating
// DeleteNode against the host that reported the failure and records a
// NodeLogCreateFailed entry. It does not re-run scheduler placement; the
// node row keeps its original host.
func (l *Lifecycle) HandleCreateFailure(ctx context.Context, begin func(ctx context.Context) (*outbox.WriteConn, error), cmd domain.Command) error {
	if cmd.NodeID == nil {
		return nil
	}
	n, err := l.store.GetNode(ctx, *cmd.NodeID)
	if err != nil {
		return svcerrors.NotFound("node", cmd.NodeID.String())
	}

	w, err := begin(ctx)
	if err != nil {
		return svcerrors.DatabaseError("begin compensation transaction", err)
	}
	if _, err := l.commands.Enqueue(ctx, w, cmd.HostID, cmd.NodeID, domain.CommandDeleteNode, n.ID.String()); err != nil {
		_ = w.Abort()
		return svcerrors.DatabaseError("enqueue compensating delete", err)
	}
	if err := l.store.WriteNodeLog(ctx, n.ID, cmd.HostID, domain.NodeLogCreateFailed); err != nil {
		l.log.WithError(err).Error("node create failure: write create_failed log failed")
	}
	if err := l.drainer.Commit(ctx, w); err != nil {
		return svcerrors.DatabaseError("commit compensating delete", err)
	}
	return nil
}
