package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/cipher"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
)

// --- authn.APIKeyStore ---

// LookupAPIKey resolves a presented key id to the scope and salted hash the
// Authenticator verifies the secret against.
func (s *Store) LookupAPIKey(ctx context.Context, keyID string) (scope cipher.Resource, endpoints []string, salt, hash string, err error) {
	var resourceKind, resourceID string
	row := s.db.QueryRowContext(ctx,
		`SELECT resource_kind, resource_id, key_salt, key_hash FROM api_keys WHERE id = $1`, keyID)
	if err := row.Scan(&resourceKind, &resourceID, &salt, &hash); err != nil {
		if err == sql.ErrNoRows {
			return cipher.Resource{}, nil, "", "", svcerrors.NotFound("api_key", keyID)
		}
		return cipher.Resource{}, nil, "", "", svcerrors.DatabaseError("lookup api key", err)
	}
	return cipher.Resource{Kind: cipher.ResourceKind(resourceKind), ID: resourceID}, nil, salt, hash, nil
}

// CreateAPIKey persists a newly minted key's salt/hash, assigning it an id.
func (s *Store) CreateAPIKey(ctx context.Context, key domain.APIKey) (domain.APIKey, error) {
	key.ID = ids.NewAPIKeyID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, label, resource_kind, resource_id, key_salt, key_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		key.ID, key.Label, string(key.ResourceKind), key.ResourceID, key.KeySalt, key.KeyHash)
	if err != nil {
		return domain.APIKey{}, svcerrors.DatabaseError("create api key", err)
	}
	return key, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id ids.APIKeyID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id); err != nil {
		return svcerrors.DatabaseError("delete api key", err)
	}
	return nil
}

// --- invitations ---

func (s *Store) CreateInvitation(ctx context.Context, inv domain.Invitation) (domain.Invitation, error) {
	inv.ID = ids.NewInvitationID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invitations (id, org_id, invited_by, invitee_email, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		inv.ID, inv.OrgID, inv.InvitedBy, inv.InviteeEmail)
	if err != nil {
		return domain.Invitation{}, svcerrors.DatabaseError("create invitation", err)
	}
	return inv, nil
}

func (s *Store) GetInvitation(ctx context.Context, id ids.InvitationID) (domain.Invitation, error) {
	var inv domain.Invitation
	row := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, invited_by, invitee_email, accepted_at, declined_at, created_at
		 FROM invitations WHERE id = $1`, id)
	if err := row.Scan(&inv.ID, &inv.OrgID, &inv.InvitedBy, &inv.InviteeEmail,
		&inv.AcceptedAt, &inv.DeclinedAt, &inv.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Invitation{}, svcerrors.NotFound("invitation", id.String())
		}
		return domain.Invitation{}, svcerrors.DatabaseError("get invitation", err)
	}
	return inv, nil
}

func (s *Store) AcceptInvitation(ctx context.Context, id ids.InvitationID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET accepted_at = now() WHERE id = $1 AND accepted_at IS NULL AND declined_at IS NULL`, id)
	if err != nil {
		return svcerrors.DatabaseError("accept invitation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return svcerrors.Conflict("invitation already resolved")
	}
	return nil
}

func (s *Store) DeclineInvitation(ctx context.Context, id ids.InvitationID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET declined_at = now() WHERE id = $1 AND accepted_at IS NULL AND declined_at IS NULL`, id)
	if err != nil {
		return svcerrors.DatabaseError("decline invitation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return svcerrors.Conflict("invitation already resolved")
	}
	return nil
}

// --- host provisioning tokens ---

func (s *Store) CreateHostProvision(ctx context.Context, hp domain.HostProvision) (domain.HostProvision, error) {
	hp.ID = uuid.New().String()
	template, err := json.Marshal(hp.ClaimsTemplate)
	if err != nil {
		return domain.HostProvision{}, svcerrors.InvalidInput("claims_template", "must be JSON-serializable")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO host_provisions (id, org_id, claims_template, created_at) VALUES ($1, $2, $3, now())`,
		hp.ID, hp.OrgID, template)
	if err != nil {
		return domain.HostProvision{}, svcerrors.DatabaseError("create host provision", err)
	}
	return hp, nil
}

// ClaimHostProvision atomically marks a provisioning token claimed and
// returns the claims it grants, failing if it was already claimed.
func (s *Store) ClaimHostProvision(ctx context.Context, id string) (domain.HostProvision, error) {
	var hp domain.HostProvision
	var template []byte
	row := s.db.QueryRowContext(ctx,
		`UPDATE host_provisions SET claimed_at = now()
		 WHERE id = $1 AND claimed_at IS NULL
		 RETURNING id, org_id, claims_template, created_at, claimed_at`, id)
	if err := row.Scan(&hp.ID, &hp.OrgID, &template, &hp.CreatedAt, &hp.ClaimedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.HostProvision{}, svcerrors.Conflict("host provision already claimed or unknown")
		}
		return domain.HostProvision{}, svcerrors.DatabaseError("claim host provision", err)
	}
	if err := json.Unmarshal(template, &hp.ClaimsTemplate); err != nil {
		return domain.HostProvision{}, svcerrors.Internal("decode claims template", err)
	}
	return hp, nil
}
