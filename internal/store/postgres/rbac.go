package postgres

import (
	"context"
	"database/sql"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
)

func (s *Store) SeedRoles(ctx context.Context, roles []domain.Role) error {
	for _, r := range roles {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO roles (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, r.Name); err != nil {
			return svcerrors.DatabaseError("seed role", err)
		}
	}
	return nil
}

func (s *Store) SeedPermissions(ctx context.Context, perms []domain.Permission) error {
	for _, p := range perms {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO permissions (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, p.Name); err != nil {
			return svcerrors.DatabaseError("seed permission", err)
		}
	}
	return nil
}

func (s *Store) SeedRolePermissions(ctx context.Context, edges []domain.RolePermission) error {
	for _, e := range edges {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO role_permissions (role, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			e.Role, e.Permission); err != nil {
			return svcerrors.DatabaseError("seed role permission", err)
		}
	}
	return nil
}

func (s *Store) GrantRole(ctx context.Context, userID ids.UserID, orgID ids.OrgID, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, org_id, role) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		userID, orgID, role)
	if err != nil {
		return svcerrors.DatabaseError("grant role", err)
	}
	return nil
}

func (s *Store) RevokeRole(ctx context.Context, userID ids.UserID, orgID ids.OrgID, role string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND org_id = $2 AND role = $3`,
		userID, orgID, role)
	if err != nil {
		return svcerrors.DatabaseError("revoke role", err)
	}
	return nil
}

func (s *Store) RolesForUser(ctx context.Context, userID ids.UserID) ([]domain.UserRole, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, org_id, role FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return nil, svcerrors.DatabaseError("roles for user", err)
	}
	defer rows.Close()

	var out []domain.UserRole
	for rows.Next() {
		var ur domain.UserRole
		if err := rows.Scan(&ur.UserID, &ur.OrgID, &ur.Role); err != nil {
			return nil, svcerrors.DatabaseError("scan user role", err)
		}
		out = append(out, ur)
	}
	return out, rows.Err()
}

func (s *Store) PermissionsForRole(ctx context.Context, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT permission FROM role_permissions WHERE role = $1`, role)
	if err != nil {
		return nil, svcerrors.DatabaseError("permissions for role", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, svcerrors.DatabaseError("scan permission", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- authz.MembershipLookup ---

func (s *Store) IsOrgMember(ctx context.Context, userID ids.UserID, orgID ids.OrgID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM orgs_users WHERE user_id = $1 AND org_id = $2)`,
		userID, orgID).Scan(&exists)
	if err != nil {
		return false, svcerrors.DatabaseError("is org member", err)
	}
	return exists, nil
}

func (s *Store) OrgForHost(ctx context.Context, hostID ids.HostID) (ids.OrgID, error) {
	var orgID ids.OrgID
	err := s.db.QueryRowContext(ctx, `SELECT org_id FROM hosts WHERE id = $1`, hostID).Scan(&orgID)
	if err == sql.ErrNoRows {
		return orgID, svcerrors.NotFound("host", hostID.String())
	}
	if err != nil {
		return orgID, svcerrors.DatabaseError("org for host", err)
	}
	return orgID, nil
}

func (s *Store) OrgForNode(ctx context.Context, nodeID ids.NodeID) (ids.OrgID, error) {
	var orgID ids.OrgID
	err := s.db.QueryRowContext(ctx, `SELECT org_id FROM nodes WHERE id = $1`, nodeID).Scan(&orgID)
	if err == sql.ErrNoRows {
		return orgID, svcerrors.NotFound("node", nodeID.String())
	}
	if err != nil {
		return orgID, svcerrors.DatabaseError("org for node", err)
	}
	return orgID, nil
}

func (s *Store) HostForNode(ctx context.Context, nodeID ids.NodeID) (ids.HostID, error) {
	var hostID ids.HostID
	err := s.db.QueryRowContext(ctx, `SELECT host_id FROM nodes WHERE id = $1`, nodeID).Scan(&hostID)
	if err == sql.ErrNoRows {
		return hostID, svcerrors.NotFound("node", nodeID.String())
	}
	if err != nil {
		return hostID, svcerrors.DatabaseError("host for node", err)
	}
	return hostID, nil
}
