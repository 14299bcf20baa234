// Package catalog implements the requirements/cookbook registry: the
// Blockchain/NodeType/Version/Property/Network image catalog a node
// placement resolves against (§3, SPEC_FULL.md supplemented features).
package catalog

import (
	"context"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
)

// Store is the persistence boundary for the catalog.
type Store interface {
	ListBlockchains(ctx context.Context, visibility *domain.BlockchainVisibility) ([]domain.Blockchain, error)
	GetBlockchain(ctx context.Context, blockchainID ids.BlockchainID) (domain.Blockchain, error)
	ListNodeTypes(ctx context.Context, blockchainID ids.BlockchainID) ([]domain.NodeType, error)
	GetNodeType(ctx context.Context, nodeTypeID ids.NodeTypeID) (domain.NodeType, error)
	ListVersions(ctx context.Context, nodeTypeID ids.NodeTypeID) ([]domain.Version, error)
	GetVersion(ctx context.Context, versionID ids.VersionID) (domain.Version, error)
}

// RequirementsFetcher is the seam SPEC_FULL.md calls out: the original
// system fetches its image catalog from an external requirements service.
// A real implementation of this interface can be plugged in later without
// touching any caller; Catalog itself is backed by Store (the same
// Postgres store everything else uses) until that integration exists.
type RequirementsFetcher interface {
	FetchVersion(ctx context.Context, nodeTypeID ids.NodeTypeID, semVer string) (domain.Version, error)
}

// Catalog resolves image catalog entries for node placement and upgrade.
type Catalog struct {
	store    Store
	external RequirementsFetcher // optional; nil means Store is authoritative
}

// New builds a Catalog. external may be nil.
func New(store Store, external RequirementsFetcher) *Catalog {
	return &Catalog{store: store, external: external}
}

// ListBlockchains returns the catalog entries visible to a caller; a nil
// visibility filter returns every entry regardless of visibility tier.
func (c *Catalog) ListBlockchains(ctx context.Context, visibility *domain.BlockchainVisibility) ([]domain.Blockchain, error) {
	chains, err := c.store.ListBlockchains(ctx, visibility)
	if err != nil {
		return nil, svcerrors.DatabaseError("list blockchains", err)
	}
	return chains, nil
}

// NodeTypesFor returns the workload kinds a blockchain offers.
func (c *Catalog) NodeTypesFor(ctx context.Context, blockchainID ids.BlockchainID) ([]domain.NodeType, error) {
	if _, err := c.store.GetBlockchain(ctx, blockchainID); err != nil {
		return nil, svcerrors.NotFound("blockchain", blockchainID.String())
	}
	types, err := c.store.ListNodeTypes(ctx, blockchainID)
	if err != nil {
		return nil, svcerrors.DatabaseError("list node types", err)
	}
	return types, nil
}

// VersionsFor returns the pinned versions available for a node type.
func (c *Catalog) VersionsFor(ctx context.Context, nodeTypeID ids.NodeTypeID) ([]domain.Version, error) {
	if _, err := c.store.GetNodeType(ctx, nodeTypeID); err != nil {
		return nil, svcerrors.NotFound("node_type", nodeTypeID.String())
	}
	versions, err := c.store.ListVersions(ctx, nodeTypeID)
	if err != nil {
		return nil, svcerrors.DatabaseError("list versions", err)
	}
	return versions, nil
}

// ResolveVersion looks up a single version, preferring the external
// requirements fetcher when one is configured and falling back to the
// store on a miss (the external registry is an optional override, not a
// replacement — anything it doesn't know about still resolves locally).
func (c *Catalog) ResolveVersion(ctx context.Context, nodeTypeID ids.NodeTypeID, versionID ids.VersionID, semVer string) (domain.Version, error) {
	if c.external != nil && semVer != "" {
		if v, err := c.external.FetchVersion(ctx, nodeTypeID, semVer); err == nil {
			return v, nil
		}
	}
	v, err := c.store.GetVersion(ctx, versionID)
	if err != nil {
		return domain.Version{}, svcerrors.NotFound("version", versionID.String())
	}
	return v, nil
}
