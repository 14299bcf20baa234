package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
)

func (s *Store) ListBlockchains(ctx context.Context, visibility *domain.BlockchainVisibility) ([]domain.Blockchain, error) {
	var rows *sql.Rows
	var err error
	if visibility != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, visibility FROM blockchains WHERE visibility = $1`, *visibility)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, name, visibility FROM blockchains`)
	}
	if err != nil {
		return nil, svcerrors.DatabaseError("list blockchains", err)
	}
	defer rows.Close()

	var out []domain.Blockchain
	for rows.Next() {
		var b domain.Blockchain
		if err := rows.Scan(&b.ID, &b.Name, &b.Visibility); err != nil {
			return nil, svcerrors.DatabaseError("scan blockchain", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetBlockchain(ctx context.Context, blockchainID ids.BlockchainID) (domain.Blockchain, error) {
	var b domain.Blockchain
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, visibility FROM blockchains WHERE id = $1`, blockchainID).Scan(&b.ID, &b.Name, &b.Visibility)
	if err == sql.ErrNoRows {
		return domain.Blockchain{}, svcerrors.NotFound("blockchain", blockchainID.String())
	}
	if err != nil {
		return domain.Blockchain{}, svcerrors.DatabaseError("get blockchain", err)
	}
	return b, nil
}

func (s *Store) ListNodeTypes(ctx context.Context, blockchainID ids.BlockchainID) ([]domain.NodeType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, blockchain_id, name FROM blockchain_node_types WHERE blockchain_id = $1`, blockchainID)
	if err != nil {
		return nil, svcerrors.DatabaseError("list node types", err)
	}
	defer rows.Close()

	var out []domain.NodeType
	for rows.Next() {
		var nt domain.NodeType
		if err := rows.Scan(&nt.ID, &nt.BlockchainID, &nt.Name); err != nil {
			return nil, svcerrors.DatabaseError("scan node type", err)
		}
		out = append(out, nt)
	}
	return out, rows.Err()
}

func (s *Store) GetNodeType(ctx context.Context, nodeTypeID ids.NodeTypeID) (domain.NodeType, error) {
	var nt domain.NodeType
	err := s.db.QueryRowContext(ctx,
		`SELECT id, blockchain_id, name FROM blockchain_node_types WHERE id = $1`, nodeTypeID).
		Scan(&nt.ID, &nt.BlockchainID, &nt.Name)
	if err == sql.ErrNoRows {
		return domain.NodeType{}, svcerrors.NotFound("node_type", nodeTypeID.String())
	}
	if err != nil {
		return domain.NodeType{}, svcerrors.DatabaseError("get node type", err)
	}
	return nt, nil
}

func (s *Store) ListVersions(ctx context.Context, nodeTypeID ids.NodeTypeID) ([]domain.Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_type_id, sem_ver, min_cpu_cores, min_memory_bytes, min_disk_bytes, properties, networks
		 FROM blockchain_versions WHERE node_type_id = $1`, nodeTypeID)
	if err != nil {
		return nil, svcerrors.DatabaseError("list versions", err)
	}
	defer rows.Close()

	var out []domain.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, svcerrors.DatabaseError("scan version", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) GetVersion(ctx context.Context, versionID ids.VersionID) (domain.Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, node_type_id, sem_ver, min_cpu_cores, min_memory_bytes, min_disk_bytes, properties, networks
		 FROM blockchain_versions WHERE id = $1`, versionID)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return domain.Version{}, svcerrors.NotFound("version", versionID.String())
	}
	if err != nil {
		return domain.Version{}, svcerrors.DatabaseError("get version", err)
	}
	return v, nil
}

func scanVersion(row scanner) (domain.Version, error) {
	var v domain.Version
	var properties, networks []byte
	err := row.Scan(&v.ID, &v.NodeTypeID, &v.SemVer, &v.MinCPUCores, &v.MinMemoryBytes, &v.MinDiskBytes,
		&properties, &networks)
	if err != nil {
		return domain.Version{}, err
	}
	if len(properties) > 0 {
		if err := json.Unmarshal(properties, &v.Properties); err != nil {
			return domain.Version{}, err
		}
	}
	if len(networks) > 0 {
		if err := json.Unmarshal(networks, &v.Networks); err != nil {
			return domain.Version{}, err
		}
	}
	return v, nil
}
