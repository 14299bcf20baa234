// Package postgres implements every store interface the control plane
// needs against a real database/sql + github.com/lib/pq connection, using
// hand-written SQL rather than an ORM (§9 "replace ORM with hand-written
// mapping"). One file per aggregate, sharing the *sql.DB handle wrapped by
// Store.
package postgres

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// Store is the Postgres-backed implementation of rbac.Store,
// authz.MembershipLookup, command.Store, scheduler.Store, accounting.Store,
// node.Store and catalog.Store. Read paths use db directly; write paths
// that participate in a transaction take the *sql.Tx carried by the
// caller's *outbox.WriteConn.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened *sql.DB (internal/platform/database.Open).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}
