package secretstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	cryptox "github.com/blockjoy/controlplane/infrastructure/crypto"
	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/ids"
)

// PostgresStore persists encrypted blobs via database/sql, using the same
// envelope scheme (AES-256-GCM, key derived from a master key + subject)
// infrastructure/crypto already provides for other at-rest secrets.
type PostgresStore struct {
	db        *sql.DB
	masterKey []byte
}

func NewPostgresStore(db *sql.DB, masterKey []byte) *PostgresStore {
	return &PostgresStore{db: db, masterKey: masterKey}
}

func subject(nodeID ids.NodeID, kind Kind, name string) []byte {
	return []byte(nodeID.String() + "/" + string(kind) + "/" + name)
}

func (p *PostgresStore) Put(ctx context.Context, nodeID ids.NodeID, kind Kind, name string, plaintext []byte) error {
	ciphertext, err := cryptox.EncryptEnvelope(p.masterKey, subject(nodeID, kind, name), "node-secret", plaintext)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO node_secrets (id, node_id, kind, name, ciphertext, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (node_id, kind, name) DO UPDATE SET ciphertext = $5, updated_at = now()`,
		uuid.New().String(), nodeID.String(), string(kind), name, ciphertext)
	if err != nil {
		return fmt.Errorf("put secret: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, nodeID ids.NodeID, kind Kind, name string) ([]byte, error) {
	var ciphertext []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT ciphertext FROM node_secrets WHERE node_id = $1 AND kind = $2 AND name = $3`,
		nodeID.String(), string(kind), name).Scan(&ciphertext)
	if err == sql.ErrNoRows {
		return nil, svcerrors.NotFound(string(kind), name)
	}
	if err != nil {
		return nil, fmt.Errorf("get secret: %w", err)
	}
	plaintext, err := cryptox.DecryptEnvelope(p.masterKey, subject(nodeID, kind, name), "node-secret", ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}
	return plaintext, nil
}

func (p *PostgresStore) List(ctx context.Context, nodeID ids.NodeID, kind Kind) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT name FROM node_secrets WHERE node_id = $1 AND kind = $2 ORDER BY name`,
		nodeID.String(), string(kind))
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p *PostgresStore) Delete(ctx context.Context, nodeID ids.NodeID, kind Kind, name string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM node_secrets WHERE node_id = $1 AND kind = $2 AND name = $3`,
		nodeID.String(), string(kind), name)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

func (p *PostgresStore) DeleteAllForNode(ctx context.Context, nodeID ids.NodeID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM node_secrets WHERE node_id = $1`, nodeID.String())
	if err != nil {
		return fmt.Errorf("delete node secrets: %w", err)
	}
	return nil
}

// CopyForNode re-encrypts every matching entry under the destination node's
// subject rather than copying ciphertext rows verbatim, since the envelope
// key is derived from the node id.
func (p *PostgresStore) CopyForNode(ctx context.Context, fromNodeID, toNodeID ids.NodeID, kind Kind) error {
	names, err := p.List(ctx, fromNodeID, kind)
	if err != nil {
		return err
	}
	for _, name := range names {
		plaintext, err := p.Get(ctx, fromNodeID, kind, name)
		if err != nil {
			return err
		}
		if err := p.Put(ctx, toNodeID, kind, name, plaintext); err != nil {
			return err
		}
	}
	return nil
}
