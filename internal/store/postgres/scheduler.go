package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
	"github.com/blockjoy/controlplane/internal/scheduler"
)

func (s *Store) WriteNodeLog(ctx context.Context, nodeID ids.NodeID, hostID ids.HostID, event domain.NodeLogEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_logs (node_id, host_id, event, created_at) VALUES ($1, $2, $3, now())`,
		nodeID, hostID, event)
	if err != nil {
		return svcerrors.DatabaseError("write node log", err)
	}
	return nil
}

// CandidateHosts finds live, non-deleted hosts matching the placement
// request's hard constraints (org's region/host-type, excluding any host
// already tried this placement), with the derived usage/similarity counts
// the scheduler's soft-preference scoring needs (§4.5).
func (s *Store) CandidateHosts(ctx context.Context, req scheduler.PlacementRequest, excludeHostIDs []ids.HostID) ([]scheduler.Candidate, error) {
	excludeStrings := make([]string, len(excludeHostIDs))
	for i, id := range excludeHostIDs {
		excludeStrings[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.org_id, h.name, h.ip_addr, h.ip_gateway, h.ip_range_from, h.ip_range_to,
		       h.cpu_cores, h.memory_bytes, h.disk_bytes, h.os, h.version, h.region_id, h.host_type,
		       h.monthly_cost_usd, h.connection_status, h.created_at, h.updated_at,
		       COALESCE(u.used_cpu_cores, 0), COALESCE(u.used_memory_bytes, 0), COALESCE(u.used_disk_bytes, 0),
		       COALESCE(ip.free_ip_count, 0),
		       COALESCE(sim.similar_count, 0)
		FROM hosts h
		LEFT JOIN (
			SELECT host_id, SUM(cpu_cores) AS used_cpu_cores, SUM(memory_bytes) AS used_memory_bytes, SUM(disk_bytes) AS used_disk_bytes
			FROM nodes WHERE deleted_at IS NULL GROUP BY host_id
		) u ON u.host_id = h.id
		LEFT JOIN (
			SELECT host_id, COUNT(*) AS free_ip_count FROM ip_addresses WHERE assigned = false GROUP BY host_id
		) ip ON ip.host_id = h.id
		LEFT JOIN (
			SELECT host_id, COUNT(*) AS similar_count FROM nodes WHERE deleted_at IS NULL AND org_id = $1 GROUP BY host_id
		) sim ON sim.host_id = h.id
		WHERE h.deleted_at IS NULL
		  AND ($2::uuid IS NULL OR h.region_id = $2)
		  AND ($3::text IS NULL OR h.host_type = $3)
		  AND NOT (h.id::text = ANY($4))
	`, req.OrgID, regionArg(req.RegionID), hostTypeArg(req.HostType), pq.Array(excludeStrings))
	if err != nil {
		return nil, svcerrors.DatabaseError("candidate hosts", err)
	}
	defer rows.Close()

	var out []scheduler.Candidate
	for rows.Next() {
		var c scheduler.Candidate
		var regionID sql.NullString
		if err := rows.Scan(&c.Host.ID, &c.Host.OrgID, &c.Host.Name, &c.Host.IPAddr, &c.Host.IPGateway,
			&c.Host.IPRangeFrom, &c.Host.IPRangeTo, &c.Host.CPUCores, &c.Host.MemoryBytes, &c.Host.DiskBytes,
			&c.Host.OS, &c.Host.Version, &regionID, &c.Host.HostType, &c.Host.MonthlyCostUSD,
			&c.Host.ConnectionStatus, &c.Host.CreatedAt, &c.Host.UpdatedAt,
			&c.Usage.UsedCPUCores, &c.Usage.UsedMemoryBytes, &c.Usage.UsedDiskBytes,
			&c.Usage.FreeIPCount, &c.SimilarNodeCount); err != nil {
			return nil, svcerrors.DatabaseError("scan candidate host", err)
		}
		if regionID.Valid {
			id, err := ids.ParseRegionID(regionID.String)
			if err != nil {
				return nil, err
			}
			c.Host.RegionID = &id
		}
		c.FreeIPCount = c.Usage.FreeIPCount
		out = append(out, c)
	}
	return out, rows.Err()
}

func regionArg(regionID *ids.RegionID) any {
	if regionID == nil {
		return nil
	}
	return regionID.String()
}

func hostTypeArg(hostType *domain.HostType) any {
	if hostType == nil {
		return nil
	}
	return string(*hostType)
}
