// Package secretstore persists the node-scoped secret and key-file blobs at
// node/{id}/secret/* and node/{id}/keyfile/* (the §9 supplemented feature),
// encrypting every value at rest with the same envelope scheme
// infrastructure/crypto already provides rather than inventing a second one.
package secretstore

import (
	"context"

	"github.com/blockjoy/controlplane/internal/ids"
)

// Kind distinguishes a node secret from a node key file; both live in the
// same table, addressed the same way, and only differ in what callers use
// them for.
type Kind string

const (
	KindSecret  Kind = "secret"
	KindKeyFile Kind = "keyfile"
)

// Store is the persistence boundary for node-scoped encrypted blobs.
type Store interface {
	Put(ctx context.Context, nodeID ids.NodeID, kind Kind, name string, plaintext []byte) error
	Get(ctx context.Context, nodeID ids.NodeID, kind Kind, name string) ([]byte, error)
	List(ctx context.Context, nodeID ids.NodeID, kind Kind) ([]string, error)
	Delete(ctx context.Context, nodeID ids.NodeID, kind Kind, name string) error
	DeleteAllForNode(ctx context.Context, nodeID ids.NodeID) error
	CopyForNode(ctx context.Context, fromNodeID, toNodeID ids.NodeID, kind Kind) error
}

// NodeSecrets adapts a Store to the internal/node.Secrets seam Lifecycle
// needs for its copy-on-create / purge-on-delete steps, without node.go
// needing to know this package (or its encryption scheme) exists.
type NodeSecrets struct {
	store Store
}

func NewNodeSecrets(store Store) *NodeSecrets {
	return &NodeSecrets{store: store}
}

func (n *NodeSecrets) CopySecrets(ctx context.Context, fromNodeID, toNodeID ids.NodeID) error {
	return n.store.CopyForNode(ctx, fromNodeID, toNodeID, KindSecret)
}

func (n *NodeSecrets) DeleteSecrets(ctx context.Context, nodeID ids.NodeID) error {
	return n.store.DeleteAllForNode(ctx, nodeID)
}
