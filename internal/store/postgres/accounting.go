package postgres

import (
	"context"
	"database/sql"
	"time"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
)

func (s *Store) InsertIPAddresses(ctx context.Context, ips []domain.IPAddress) error {
	for _, ip := range ips {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO ip_addresses (id, host_id, ip, assigned) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
			ip.ID, ip.HostID, ip.IP, ip.Assigned)
		if err != nil {
			return svcerrors.DatabaseError("insert ip address", err)
		}
	}
	return nil
}

// ReserveIP atomically claims one free address on the host, matching the
// scheduler's "reserve under row lock" pattern so two concurrent node
// creates on the same host never double-assign an address.
func (s *Store) ReserveIP(ctx context.Context, hostID ids.HostID) (domain.IPAddress, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE ip_addresses SET assigned = true
		WHERE id = (
			SELECT id FROM ip_addresses
			WHERE host_id = $1 AND assigned = false
			ORDER BY ip ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, host_id, ip, assigned
	`, hostID)

	var ip domain.IPAddress
	err := row.Scan(&ip.ID, &ip.HostID, &ip.IP, &ip.Assigned)
	if err == sql.ErrNoRows {
		return domain.IPAddress{}, svcerrors.ResourceExhausted("no free ip address on host")
	}
	if err != nil {
		return domain.IPAddress{}, svcerrors.DatabaseError("reserve ip", err)
	}
	return ip, nil
}

func (s *Store) ReleaseIP(ctx context.Context, ipID ids.IPAddressID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE ip_addresses SET assigned = false WHERE id = $1`, ipID)
	if err != nil {
		return svcerrors.DatabaseError("release ip", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return svcerrors.NotFound("ip_address", ipID.String())
	}
	return nil
}

func (s *Store) HostUsage(ctx context.Context, hostID ids.HostID) (domain.HostUsage, error) {
	var usage domain.HostUsage
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cpu_cores), 0), COALESCE(SUM(memory_bytes), 0), COALESCE(SUM(disk_bytes), 0)
		FROM nodes WHERE host_id = $1 AND deleted_at IS NULL
	`, hostID).Scan(&usage.UsedCPUCores, &usage.UsedMemoryBytes, &usage.UsedDiskBytes)
	if err != nil {
		return domain.HostUsage{}, svcerrors.DatabaseError("host usage", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ip_addresses WHERE host_id = $1 AND assigned = false`, hostID).Scan(&usage.FreeIPCount)
	if err != nil {
		return domain.HostUsage{}, svcerrors.DatabaseError("free ip count", err)
	}
	return usage, nil
}

func (s *Store) NodeCountForOrg(ctx context.Context, orgID ids.OrgID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE org_id = $1 AND deleted_at IS NULL`, orgID).Scan(&count)
	if err != nil {
		return 0, svcerrors.DatabaseError("node count for org", err)
	}
	return count, nil
}

func (s *Store) NodeCountForHost(ctx context.Context, hostID ids.HostID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE host_id = $1 AND deleted_at IS NULL`, hostID).Scan(&count)
	if err != nil {
		return 0, svcerrors.DatabaseError("node count for host", err)
	}
	return count, nil
}

func (s *Store) CreateSubscriptionItem(ctx context.Context, orgID ids.OrgID, userID ids.UserID, externalID string) (domain.Subscription, error) {
	sub := domain.Subscription{
		ID:         ids.NewSubscriptionID(),
		OrgID:      orgID,
		UserID:     userID,
		ExternalID: externalID,
		CreatedAt:  time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, org_id, user_id, external_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		sub.ID, sub.OrgID, sub.UserID, sub.ExternalID, sub.CreatedAt)
	if err != nil {
		return domain.Subscription{}, svcerrors.DatabaseError("create subscription item", err)
	}
	return sub, nil
}

func (s *Store) DeleteSubscriptionItem(ctx context.Context, subscriptionItemID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE external_id = $1`, subscriptionItemID)
	if err != nil {
		return svcerrors.DatabaseError("delete subscription item", err)
	}
	return nil
}

func (s *Store) SweepStaleCommands(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM commands WHERE acked_at IS NULL AND created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, svcerrors.DatabaseError("sweep stale commands", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, svcerrors.DatabaseError("sweep stale commands rows affected", err)
	}
	return n, nil
}
