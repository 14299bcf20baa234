// Package accounting implements C9: IP pool management, per-host resource
// budget enforcement, billing subscription-item bookkeeping, and the periodic
// reconciliation sweep of stale commands, which also logs a self-health
// snapshot of the controlplaned host (§3, §6).
package accounting

import (
	"context"
	"net"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/infrastructure/logging"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
)

// Store is the persistence boundary Accounting needs.
type Store interface {
	InsertIPAddresses(ctx context.Context, ips []domain.IPAddress) error
	ReserveIP(ctx context.Context, hostID ids.HostID) (domain.IPAddress, error)
	ReleaseIP(ctx context.Context, ipID ids.IPAddressID) error

	HostUsage(ctx context.Context, hostID ids.HostID) (domain.HostUsage, error)
	NodeCountForOrg(ctx context.Context, orgID ids.OrgID) (int64, error)
	NodeCountForHost(ctx context.Context, hostID ids.HostID) (int64, error)

	CreateSubscriptionItem(ctx context.Context, orgID ids.OrgID, userID ids.UserID, externalID string) (domain.Subscription, error)
	DeleteSubscriptionItem(ctx context.Context, subscriptionItemID string) error

	SweepStaleCommands(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Accounting is C9.
type Accounting struct {
	store Store
	log   *logging.Logger
	cron  *cron.Cron
}

// New builds an Accounting component.
func New(store Store, log *logging.Logger) *Accounting {
	return &Accounting{store: store, log: log}
}

// GenerateIPPool expands a host's [from,to] IPv4 range into individual
// IPAddress rows, excluding the host's own address and its gateway (§3 Host
// "IP pool = [from,to] minus host.ip/gateway").
func GenerateIPPool(hostID ids.HostID, from, to, hostIP, gateway string) ([]domain.IPAddress, error) {
	fromIP := net.ParseIP(from).To4()
	toIP := net.ParseIP(to).To4()
	if fromIP == nil || toIP == nil {
		return nil, svcerrors.InvalidInput("ip_range", "from/to must be valid IPv4 addresses")
	}

	var out []domain.IPAddress
	for ip := fromIP; bytesCompare(ip, toIP) <= 0; ip = nextIP(ip) {
		s := ip.String()
		if s == hostIP || s == gateway {
			continue
		}
		out = append(out, domain.IPAddress{
			ID:     ids.NewIPAddressID(),
			HostID: hostID,
			IP:     s,
		})
	}
	return out, nil
}

func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}

func bytesCompare(a, b net.IP) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// PersistIPPool stores a generated pool.
func (a *Accounting) PersistIPPool(ctx context.Context, ips []domain.IPAddress) error {
	if err := a.store.InsertIPAddresses(ctx, ips); err != nil {
		return svcerrors.DatabaseError("insert ip pool", err)
	}
	return nil
}

// ReserveIP claims one free IP from a host's pool for a new node, failing
// with ResourceExhausted if none remain (§4.5 hard filter "free IP").
func (a *Accounting) ReserveIP(ctx context.Context, hostID ids.HostID) (domain.IPAddress, error) {
	ip, err := a.store.ReserveIP(ctx, hostID)
	if err != nil {
		return domain.IPAddress{}, svcerrors.ResourceExhausted("ip_address")
	}
	return ip, nil
}

// ReleaseIP returns an IP to its host's free pool, used on node deletion
// (§4.6 Delete "clear the IP").
func (a *Accounting) ReleaseIP(ctx context.Context, ipID ids.IPAddressID) error {
	if err := a.store.ReleaseIP(ctx, ipID); err != nil {
		return svcerrors.DatabaseError("release ip", err)
	}
	return nil
}

// Budget reports a host's resource headroom for a proposed allocation.
type Budget struct {
	FreeCPUCores    int64
	FreeMemoryBytes int64
	FreeDiskBytes   int64
}

// CheckHostBudget loads a host's current usage and confirms the requested
// allocation fits with strictly-greater headroom, matching the scheduler's
// hard filter so the same rule is enforced again at write time (§4.5, §4.6).
func (a *Accounting) CheckHostBudget(ctx context.Context, host domain.Host, need Requirement) (Budget, error) {
	usage, err := a.store.HostUsage(ctx, host.ID)
	if err != nil {
		return Budget{}, svcerrors.DatabaseError("load host usage", err)
	}
	budget := Budget{
		FreeCPUCores:    host.FreeCPU(usage),
		FreeMemoryBytes: host.FreeMemory(usage),
		FreeDiskBytes:   host.FreeDisk(usage),
	}
	if budget.FreeCPUCores <= need.CPUCores || budget.FreeMemoryBytes <= need.MemoryBytes || budget.FreeDiskBytes <= need.DiskBytes {
		return budget, svcerrors.ResourceExhausted("host_capacity")
	}
	return budget, nil
}

// Requirement mirrors scheduler.Requirement to avoid a package-level
// dependency cycle between accounting and scheduler.
type Requirement struct {
	CPUCores    int64
	MemoryBytes int64
	DiskBytes   int64
}

// CreateSubscriptionItem opens a billing subscription item for a newly
// created node (§4.6 Create "billing subscription-item creation").
func (a *Accounting) CreateSubscriptionItem(ctx context.Context, orgID ids.OrgID, userID ids.UserID, externalID string) (domain.Subscription, error) {
	sub, err := a.store.CreateSubscriptionItem(ctx, orgID, userID, externalID)
	if err != nil {
		return domain.Subscription{}, svcerrors.DatabaseError("create subscription item", err)
	}
	return sub, nil
}

// FreeSubscriptionItem releases a billing subscription item, used on node
// deletion (§4.6 Delete "free billing item").
func (a *Accounting) FreeSubscriptionItem(ctx context.Context, subscriptionItemID string) error {
	if subscriptionItemID == "" {
		return nil
	}
	if err := a.store.DeleteSubscriptionItem(ctx, subscriptionItemID); err != nil {
		return svcerrors.DatabaseError("free subscription item", err)
	}
	return nil
}

// staleCommandAge is how long an un-acked command may sit before the
// reconciliation sweep treats it as abandoned and logs it for operator
// attention.
const staleCommandAge = 15 * time.Minute

// StartReconciliation schedules the periodic sweep (stale-command cleanup,
// logging a self-health snapshot of the controlplaned process) on the given
// cron expression, grounded on the teacher's robfig/cron usage for
// background jobs elsewhere in the service layer.
func (a *Accounting) StartReconciliation(cronExpr string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(cronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		swept, err := a.store.SweepStaleCommands(ctx, staleCommandAge)
		if err != nil {
			a.log.WithError(err).Error("reconciliation: sweep stale commands failed")
		} else if swept > 0 {
			a.log.WithFields(map[string]interface{}{"count": swept}).Warn("reconciliation: swept stale commands")
		}

		if snap, err := SelfHealthSnapshot(); err == nil {
			a.log.WithFields(map[string]interface{}{
				"cpu_percent":       snap.CPUPercent,
				"memory_used_bytes": snap.MemoryUsedBytes,
				"disk_used_bytes":   snap.DiskUsedBytes,
			}).Debug("reconciliation: controlplaned self health")
		}
	})
	if err != nil {
		return nil, err
	}
	a.cron = c
	c.Start()
	return c, nil
}

// Stop halts the reconciliation scheduler, if running.
func (a *Accounting) Stop() {
	if a.cron != nil {
		a.cron.Stop()
	}
}

// Health is a point-in-time resource reading of the machine controlplaned
// itself runs on, surfaced by the /healthz endpoint,
// distinct from the per-agent-reported Host metrics in the domain model.
type Health struct {
	CPUPercent      float64
	MemoryUsedBytes uint64
	DiskUsedBytes   uint64
}

// SelfHealthSnapshot reads current process-host CPU/memory/disk utilization
// via gopsutil, matching the teacher's use of gopsutil for host-metric
// collection elsewhere in the service layer.
func SelfHealthSnapshot() (Health, error) {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return Health{}, svcerrors.Internal("read cpu stats", err)
	}
	var cpuPercent float64
	if len(percentages) > 0 {
		cpuPercent = percentages[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return Health{}, svcerrors.Internal("read memory stats", err)
	}

	du, err := disk.Usage("/")
	if err != nil {
		return Health{}, svcerrors.Internal("read disk stats", err)
	}

	return Health{
		CPUPercent:      cpuPercent,
		MemoryUsedBytes: vm.Used,
		DiskUsedBytes:   du.Used,
	}, nil
}
