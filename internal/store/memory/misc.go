package memory

import (
	"github.com/google/uuid"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/cipher"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"

	"context"
)

// --- authn.APIKeyStore ---

func (s *Store) LookupAPIKey(ctx context.Context, keyID string) (scope cipher.Resource, endpoints []string, salt, hash string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, perr := ids.ParseAPIKeyID(keyID)
	if perr != nil {
		return cipher.Resource{}, nil, "", "", svcerrors.NotFound("api_key", keyID)
	}
	key, ok := s.apiKeys[id]
	if !ok {
		return cipher.Resource{}, nil, "", "", svcerrors.NotFound("api_key", keyID)
	}
	return cipher.Resource{Kind: cipher.ResourceKind(key.ResourceKind), ID: key.ResourceID}, nil, key.KeySalt, key.KeyHash, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, key domain.APIKey) (domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key.ID = ids.NewAPIKeyID()
	key.CreatedAt = currentTime()
	key.UpdatedAt = key.CreatedAt
	s.apiKeys[key.ID] = key
	return key, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id ids.APIKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.apiKeys, id)
	return nil
}

// --- invitations ---

func (s *Store) CreateInvitation(ctx context.Context, inv domain.Invitation) (domain.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv.ID = ids.NewInvitationID()
	inv.CreatedAt = currentTime()
	s.invitations[inv.ID] = inv
	return inv, nil
}

func (s *Store) GetInvitation(ctx context.Context, id ids.InvitationID) (domain.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invitations[id]
	if !ok {
		return domain.Invitation{}, svcerrors.NotFound("invitation", id.String())
	}
	return inv, nil
}

func (s *Store) AcceptInvitation(ctx context.Context, id ids.InvitationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return svcerrors.NotFound("invitation", id.String())
	}
	if !inv.IsOpen() {
		return svcerrors.Conflict("invitation already resolved")
	}
	now := currentTime()
	inv.AcceptedAt = &now
	s.invitations[id] = inv
	return nil
}

func (s *Store) DeclineInvitation(ctx context.Context, id ids.InvitationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return svcerrors.NotFound("invitation", id.String())
	}
	if !inv.IsOpen() {
		return svcerrors.Conflict("invitation already resolved")
	}
	now := currentTime()
	inv.DeclinedAt = &now
	s.invitations[id] = inv
	return nil
}

// --- host provisioning tokens ---

func (s *Store) CreateHostProvision(ctx context.Context, hp domain.HostProvision) (domain.HostProvision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hp.ID = uuid.New().String()
	hp.CreatedAt = currentTime()
	s.hostProvisions[hp.ID] = hp
	return hp, nil
}

func (s *Store) ClaimHostProvision(ctx context.Context, id string) (domain.HostProvision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hp, ok := s.hostProvisions[id]
	if !ok || hp.ClaimedAt != nil {
		return domain.HostProvision{}, svcerrors.Conflict("host provision already claimed or unknown")
	}
	now := currentTime()
	hp.ClaimedAt = &now
	s.hostProvisions[id] = hp
	return hp, nil
}
