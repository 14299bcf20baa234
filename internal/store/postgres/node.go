package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
	"github.com/blockjoy/controlplane/internal/node"
	"github.com/blockjoy/controlplane/internal/outbox"
)

func (s *Store) InsertNode(ctx context.Context, w *outbox.WriteConn, n domain.Node) (domain.Node, error) {
	allowIPs, err := json.Marshal(n.AllowIPs)
	if err != nil {
		return domain.Node{}, svcerrors.Internal("marshal allow ips", err)
	}
	denyIPs, err := json.Marshal(n.DenyIPs)
	if err != nil {
		return domain.Node{}, svcerrors.Internal("marshal deny ips", err)
	}
	policy, err := json.Marshal(n.SchedulerPolicy)
	if err != nil {
		return domain.Node{}, svcerrors.Internal("marshal scheduler policy", err)
	}

	_, err = w.Tx.ExecContext(ctx, `
		INSERT INTO nodes (
			id, org_id, host_id, blockchain_id, node_type_id, version_id, config_id,
			name, ip, ip_gateway, dns_record_id, cpu_cores, memory_bytes, disk_bytes,
			allow_ips, deny_ips, state, protocol_state, protocol_health, scheduler_policy,
			subscription_item_id, created_by, self_update, auto_upgrade, tags, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27
		)`,
		n.ID, n.OrgID, n.HostID, n.BlockchainID, n.NodeTypeID, n.VersionID, n.ConfigID,
		n.Name, n.IP, n.IPGateway, n.DNSRecordID, n.CPUCores, n.MemoryBytes, n.DiskBytes,
		allowIPs, denyIPs, n.State, n.ProtocolState, n.ProtocolHealth, policy,
		n.SubscriptionItemID, n.CreatedBy, n.SelfUpdate, n.AutoUpgrade, pq.Array(n.Tags), n.CreatedAt, n.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Node{}, svcerrors.AlreadyExists("node", n.Name)
		}
		return domain.Node{}, svcerrors.DatabaseError("insert node", err)
	}
	return n, nil
}

func (s *Store) GetNode(ctx context.Context, nodeID ids.NodeID) (domain.Node, error) {
	row := s.db.QueryRowContext(ctx, nodeSelectColumns+` FROM nodes WHERE id = $1`, nodeID)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return domain.Node{}, svcerrors.NotFound("node", nodeID.String())
	}
	if err != nil {
		return domain.Node{}, svcerrors.DatabaseError("get node", err)
	}
	return n, nil
}

func (s *Store) NameTaken(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM nodes WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, svcerrors.DatabaseError("name taken", err)
	}
	return exists, nil
}

func (s *Store) SetNodeState(ctx context.Context, w *outbox.WriteConn, nodeID ids.NodeID, state domain.NodeState, next *domain.NodeState) error {
	var nextArg any
	if next != nil {
		nextArg = string(*next)
	}
	res, err := w.Tx.ExecContext(ctx,
		`UPDATE nodes SET state = $2, next_state = $3, updated_at = now() WHERE id = $1`,
		nodeID, state, nextArg)
	if err != nil {
		return svcerrors.DatabaseError("set node state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return svcerrors.NotFound("node", nodeID.String())
	}
	return nil
}

func (s *Store) ApplyStatusUpdate(ctx context.Context, nodeID ids.NodeID, update node.StatusUpdate) (domain.Node, error) {
	n, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return domain.Node{}, err
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

	jobs, err := json.Marshal(n.Jobs)
	if err != nil {
		return domain.Node{}, svcerrors.Internal("marshal jobs", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE nodes SET protocol_state = $2, protocol_health = $3, jobs = $4,
		                 block_height = $5, block_age = $6, consensus = $7, updated_at = now()
		WHERE id = $1`,
		nodeID, n.ProtocolState, n.ProtocolHealth, jobs, n.BlockHeight, n.BlockAge, n.Consensus)
	if err != nil {
		return domain.Node{}, svcerrors.DatabaseError("apply status update", err)
	}
	return n, nil
}

func (s *Store) SoftDeleteNode(ctx context.Context, w *outbox.WriteConn, nodeID ids.NodeID) error {
	_, err := w.Tx.ExecContext(ctx,
		`UPDATE nodes SET deleted_at = now(), state = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		nodeID, domain.NodeStateDeleted)
	if err != nil {
		return svcerrors.DatabaseError("soft delete node", err)
	}
	return nil
}

func (s *Store) InsertNodeConfig(ctx context.Context, w *outbox.WriteConn, cfg domain.NodeConfig) (domain.NodeConfig, error) {
	propertyValues, err := json.Marshal(cfg.PropertyValues)
	if err != nil {
		return domain.NodeConfig{}, svcerrors.Internal("marshal property values", err)
	}
	allowIPs, err := json.Marshal(cfg.AllowIPs)
	if err != nil {
		return domain.NodeConfig{}, svcerrors.Internal("marshal allow ips", err)
	}
	denyIPs, err := json.Marshal(cfg.DenyIPs)
	if err != nil {
		return domain.NodeConfig{}, svcerrors.Internal("marshal deny ips", err)
	}

	_, err = w.Tx.ExecContext(ctx, `
		INSERT INTO configs (id, node_id, version_id, cpu_cores, memory_bytes, disk_bytes, property_values, allow_ips, deny_ips, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cfg.ID, cfg.NodeID, cfg.VersionID, cfg.CPUCores, cfg.MemoryBytes, cfg.DiskBytes,
		propertyValues, allowIPs, denyIPs, cfg.CreatedAt)
	if err != nil {
		return domain.NodeConfig{}, svcerrors.DatabaseError("insert node config", err)
	}
	return cfg, nil
}

func (s *Store) GetHost(ctx context.Context, hostID ids.HostID) (domain.Host, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, ip_addr, ip_gateway, ip_range_from, ip_range_to,
		       cpu_cores, memory_bytes, disk_bytes, os, version, region_id, host_type,
		       monthly_cost_usd, connection_status, created_at, updated_at, deleted_at
		FROM hosts WHERE id = $1`, hostID)

	var h domain.Host
	var regionID sql.NullString
	err := row.Scan(&h.ID, &h.OrgID, &h.Name, &h.IPAddr, &h.IPGateway, &h.IPRangeFrom, &h.IPRangeTo,
		&h.CPUCores, &h.MemoryBytes, &h.DiskBytes, &h.OS, &h.Version, &regionID, &h.HostType,
		&h.MonthlyCostUSD, &h.ConnectionStatus, &h.CreatedAt, &h.UpdatedAt, &h.DeletedAt)
	if err == sql.ErrNoRows {
		return domain.Host{}, svcerrors.NotFound("host", hostID.String())
	}
	if err != nil {
		return domain.Host{}, svcerrors.DatabaseError("get host", err)
	}
	if regionID.Valid {
		id, err := ids.ParseRegionID(regionID.String)
		if err != nil {
			return domain.Host{}, err
		}
		h.RegionID = &id
	}
	return h, nil
}

const nodeSelectColumns = `
	SELECT id, org_id, host_id, blockchain_id, node_type_id, version_id, config_id,
	       name, ip, ip_gateway, dns_record_id, cpu_cores, memory_bytes, disk_bytes,
	       allow_ips, deny_ips, state, next_state, protocol_state, protocol_health, jobs,
	       block_height, block_age, consensus, scheduler_policy, subscription_item_id,
	       created_by, self_update, auto_upgrade, tags, created_at, updated_at, deleted_at`

func scanNode(row scanner) (domain.Node, error) {
	var n domain.Node
	var allowIPs, denyIPs, jobs, policy []byte
	var nextState sql.NullString
	var subscriptionItemID sql.NullString
	var tags pq.StringArray

	err := row.Scan(&n.ID, &n.OrgID, &n.HostID, &n.BlockchainID, &n.NodeTypeID, &n.VersionID, &n.ConfigID,
		&n.Name, &n.IP, &n.IPGateway, &n.DNSRecordID, &n.CPUCores, &n.MemoryBytes, &n.DiskBytes,
		&allowIPs, &denyIPs, &n.State, &nextState, &n.ProtocolState, &n.ProtocolHealth, &jobs,
		&n.BlockHeight, &n.BlockAge, &n.Consensus, &policy, &subscriptionItemID,
		&n.CreatedBy, &n.SelfUpdate, &n.AutoUpgrade, &tags, &n.CreatedAt, &n.UpdatedAt, &n.DeletedAt)
	if err != nil {
		return domain.Node{}, err
	}

	if err := json.Unmarshal(allowIPs, &n.AllowIPs); err != nil {
		return domain.Node{}, err
	}
	if err := json.Unmarshal(denyIPs, &n.DenyIPs); err != nil {
		return domain.Node{}, err
	}
	if len(jobs) > 0 {
		if err := json.Unmarshal(jobs, &n.Jobs); err != nil {
			return domain.Node{}, err
		}
	}
	if len(policy) > 0 {
		if err := json.Unmarshal(policy, &n.SchedulerPolicy); err != nil {
			return domain.Node{}, err
		}
	}
	if nextState.Valid {
		state := domain.NodeState(nextState.String)
		n.NextState = &state
	}
	if subscriptionItemID.Valid {
		n.SubscriptionItemID = &subscriptionItemID.String
	}
	n.Tags = []string(tags)
	return n, nil
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code.Name() == "unique_violation"
}
