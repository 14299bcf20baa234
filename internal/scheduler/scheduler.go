// Package scheduler implements C5: host selection for a new node, combining
// hard filters with a soft lexicographic ordering, and the retry-on-failure
// placement loop used when a chosen host's agent reports a create failure
// (§4.5).
package scheduler

import (
	"context"
	"sort"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
)

// Requirement is the resource footprint a node placement needs.
type Requirement struct {
	CPUCores    int64
	MemoryBytes int64
	DiskBytes   int64
}

// Candidate is one host considered for placement, carrying its current
// usage and the co-location count the similarity policy needs.
type Candidate struct {
	Host            domain.Host
	Usage           domain.HostUsage
	FreeIPCount     int64
	SimilarNodeCount int64 // live nodes on this host belonging to the same org
}

// Store resolves the hosts eligible for a placement request, with hard
// org/region/host-type matching and soft-delete exclusion already applied by
// the query; CandidateHosts also excludes any host id in excludeHostIDs so a
// retry never reconsiders a host already tried (§4.5).
type Store interface {
	CandidateHosts(ctx context.Context, req PlacementRequest, excludeHostIDs []ids.HostID) ([]Candidate, error)
	WriteNodeLog(ctx context.Context, nodeID ids.NodeID, hostID ids.HostID, event domain.NodeLogEvent) error
}

// PlacementRequest names the constraints and resource needs a new node
// placement must satisfy.
type PlacementRequest struct {
	OrgID    ids.OrgID
	RegionID *ids.RegionID
	HostType *domain.HostType
	Need     Requirement
	Policy   domain.SchedulerPolicy
}

// MaxPlacementAttempts bounds the retry-on-failure loop; once every
// candidate host has been tried and failed, placement gives up (§4.5).
const MaxPlacementAttempts = 5

// Scheduler is C5.
type Scheduler struct {
	store Store
}

// New builds a Scheduler.
func New(store Store) *Scheduler {
	return &Scheduler{store: store}
}

// Place runs the hard-filter + soft-ordering algorithm once and returns the
// best host, excluding any host id already tried by an earlier attempt for
// the same node (§4.5 steps 1-2).
func (s *Scheduler) Place(ctx context.Context, req PlacementRequest, excludeHostIDs []ids.HostID) (ids.HostID, error) {
	var none ids.HostID
	candidates, err := s.store.CandidateHosts(ctx, req, excludeHostIDs)
	if err != nil {
		return none, svcerrors.DatabaseError("list candidate hosts", err)
	}

	filtered := hardFilter(candidates, req)
	if len(filtered) == 0 {
		return none, svcerrors.ResourceExhausted("host")
	}

	sortCandidates(filtered, req.Policy)
	return filtered[0].Host.ID, nil
}

// PlaceWithRetry drives the full retry-placement loop for a node (§4.5
// "retry-placement"): each failed attempt excludes the host that failed and
// tries again, until a host is found, MaxPlacementAttempts is exhausted, or
// no candidates remain. On give-up it writes a Cancelled NodeLog entry.
//
// attempt is called once per candidate host; it should perform whatever work
// requires that host (e.g. enqueue CreateNode) and report whether placement
// on that host succeeded.
func (s *Scheduler) PlaceWithRetry(ctx context.Context, nodeID ids.NodeID, req PlacementRequest, attempt func(hostID ids.HostID) (ok bool, err error)) (ids.HostID, error) {
	var tried []ids.HostID
	var zeroHost ids.HostID

	for i := 0; i < MaxPlacementAttempts; i++ {
		hostID, err := s.Place(ctx, req, tried)
		if err != nil {
			_ = s.store.WriteNodeLog(ctx, nodeID, zeroHost, domain.NodeLogCancelled)
			return zeroHost, err
		}

		ok, err := attempt(hostID)
		if err != nil {
			return zeroHost, err
		}
		if ok {
			return hostID, nil
		}
		tried = append(tried, hostID)
	}

	_ = s.store.WriteNodeLog(ctx, nodeID, zeroHost, domain.NodeLogCancelled)
	return zeroHost, svcerrors.ResourceExhausted("host")
}

// hardFilter drops any candidate without strictly-greater headroom on every
// resource dimension, or with no free IP (§4.5 hard filters). Org/region/
// host-type matching and soft-delete exclusion are expected to already be
// applied by the Store query; this is a defensive second pass.
func hardFilter(candidates []Candidate, req PlacementRequest) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if c.Host.IsDeleted() {
			continue
		}
		if req.HostType != nil && c.Host.HostType != *req.HostType {
			continue
		}
		if req.RegionID != nil && (c.Host.RegionID == nil || *c.Host.RegionID != *req.RegionID) {
			continue
		}
		if c.Host.FreeCPU(c.Usage) <= req.Need.CPUCores {
			continue
		}
		if c.Host.FreeMemory(c.Usage) <= req.Need.MemoryBytes {
			continue
		}
		if c.Host.FreeDisk(c.Usage) <= req.Need.DiskBytes {
			continue
		}
		if c.FreeIPCount < 1 {
			continue
		}
		out = append(out, c)
	}
	return out
}

// sortCandidates orders surviving candidates by the node's soft-ordering
// policy: similarity first, then free-resource preference, both applied
// lexicographically so a similarity tie is broken by the resource policy
// (§4.5 soft ordering).
func sortCandidates(candidates []Candidate, policy domain.SchedulerPolicy) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if cmp := similarityLess(candidates[i], candidates[j], policy.Similarity); cmp != 0 {
			return cmp < 0
		}
		return resourceLess(candidates[i], candidates[j], policy.Resource)
	})
}

// similarityLess returns -1 if a should sort before b, 1 if after, 0 if tied,
// under the given similarity policy.
func similarityLess(a, b Candidate, policy domain.SimilarityPolicy) int {
	switch policy {
	case domain.SimilarityCluster:
		// Prefer hosts already running more of this org's nodes.
		if a.SimilarNodeCount == b.SimilarNodeCount {
			return 0
		}
		if a.SimilarNodeCount > b.SimilarNodeCount {
			return -1
		}
		return 1
	case domain.SimilaritySpread:
		// Prefer hosts running fewer of this org's nodes.
		if a.SimilarNodeCount == b.SimilarNodeCount {
			return 0
		}
		if a.SimilarNodeCount < b.SimilarNodeCount {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func resourceLess(a, b Candidate, policy domain.ResourcePolicy) bool {
	aFreeCPU := a.Host.FreeCPU(a.Usage)
	bFreeCPU := b.Host.FreeCPU(b.Usage)
	switch policy {
	case domain.ResourceMostResources:
		return aFreeCPU > bFreeCPU
	case domain.ResourceLeastResources:
		return aFreeCPU < bFreeCPU
	default:
		return false
	}
}
