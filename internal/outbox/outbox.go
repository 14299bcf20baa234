// Package outbox implements C8: a transactional outbox that accumulates
// domain events and metadata notices alongside a database write and only
// hands them off for publication once the enclosing transaction commits
// (§4.8).
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/blockjoy/controlplane/infrastructure/transaction"
	"github.com/blockjoy/controlplane/pkg/pgnotify"
)

// Event is a domain event destined for the pgnotify bus once the writing
// transaction commits (e.g. a host-channel command-available notice).
type Event struct {
	Channel string
	Payload interface{}
}

// Meta is an in-process notice consumed only within the same request (not
// published externally), used for bookkeeping such as "node state changed"
// hooks that other in-process components want to observe synchronously
// after commit.
type Meta struct {
	Kind string
	Data interface{}
}

// WriteConn wraps a single database transaction together with the unbounded
// meta and event channels a unit of work accumulates while it runs. Nothing
// is drained until Commit succeeds; Abort discards everything (§4.8
// "drain-after-commit, discard-on-abort").
type WriteConn struct {
	Tx *sql.Tx

	events []Event
	metas  []Meta
}

// Begin starts a new transaction-scoped WriteConn.
func Begin(ctx context.Context, db *sql.DB) (*WriteConn, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &WriteConn{Tx: tx}, nil
}

// Publish queues a domain event for the pgnotify bus, to be sent only after
// Commit succeeds.
func (w *WriteConn) Publish(channel string, payload interface{}) {
	w.events = append(w.events, Event{Channel: channel, Payload: payload})
}

// Notify queues an in-process meta notice, drained the same way as events.
func (w *WriteConn) Notify(kind string, data interface{}) {
	w.metas = append(w.metas, Meta{Kind: kind, Data: data})
}

// Abort rolls back the transaction and discards every queued event and meta
// notice; nothing queued before an abort is ever published.
func (w *WriteConn) Abort() error {
	w.events = nil
	w.metas = nil
	return w.Tx.Rollback()
}

// Bus is the publication boundary the Outbox drains into after commit. The
// pgnotify.Bus implementation satisfies this directly.
type Bus interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// Drainer commits a WriteConn's transaction and, only on success, publishes
// every queued event and hands queued meta notices to an in-process
// subscriber. A publish failure is logged, not fatal — the write already
// committed and must not be undone by a downstream notification problem
// (§4.8 "logged-not-fatal publish failures").
type Drainer struct {
	bus         Bus
	metaHandler func(Meta)
	logger      *slog.Logger
}

// NewDrainer builds a Drainer. metaHandler may be nil if nothing in-process
// needs meta notices.
func NewDrainer(bus Bus, metaHandler func(Meta), logger *slog.Logger) *Drainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{bus: bus, metaHandler: metaHandler, logger: logger}
}

// Commit commits the transaction and, on success, drains queued
// events/metas. The transaction is never re-attempted; once Commit returns
// a nil error, the write is durable regardless of publish outcome.
func (d *Drainer) Commit(ctx context.Context, w *WriteConn) error {
	if err := w.Tx.Commit(); err != nil {
		return err
	}

	for _, ev := range w.events {
		if err := d.bus.Publish(ctx, ev.Channel, ev.Payload); err != nil {
			d.logger.Error("outbox: publish failed", "channel", ev.Channel, "error", err)
		}
	}
	if d.metaHandler != nil {
		for _, m := range w.metas {
			d.metaHandler(m)
		}
	}
	return nil
}

// PGNotifyBus adapts pkg/pgnotify.Bus to the Drainer's Bus interface,
// marshaling the payload to JSON the way pgnotify.Bus.Publish expects.
type PGNotifyBus struct {
	bus *pgnotify.Bus
}

// NewPGNotifyBus wraps an existing pgnotify bus.
func NewPGNotifyBus(bus *pgnotify.Bus) *PGNotifyBus { return &PGNotifyBus{bus: bus} }

func (b *PGNotifyBus) Publish(ctx context.Context, channel string, payload interface{}) error {
	return b.bus.Publish(ctx, channel, payload)
}

// CommandAvailableChannel is the pgnotify channel a host's agent connection
// listens on when long-polling for pending commands; Publish is called with
// the new command's id as payload whenever a command is enqueued for it
// (§4.7).
func CommandAvailableChannel(hostID string) string {
	return "commands_host_" + hostID
}

// CompensationStep adapts a WriteConn-scoped action/compensation pair into
// an infrastructure/transaction.Step, so multi-step writes that must roll
// back non-database side effects (DNS record creation, secret writes) on
// failure reuse the teacher's saga runner instead of a bespoke one.
func CompensationStep(name string, action func(ctx context.Context) error, compensation func(ctx context.Context) error) transaction.Step {
	return transaction.Step{Name: name, Action: action, Compensation: compensation}
}

// MarshalPayload is a small helper so callers queuing typed events don't
// each re-implement JSON encoding error handling.
func MarshalPayload(v interface{}) (json.RawMessage, error) {
	return json.Marshal(v)
}
