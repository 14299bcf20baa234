// Package command implements C7: the per-host FIFO command queue a host
// agent polls and acknowledges (§4.7).
package command

import (
	"context"
	"time"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
	"github.com/blockjoy/controlplane/internal/outbox"
)

// Store is the persistence boundary for commands. internal/store/postgres
// and internal/store/memory both implement it.
type Store interface {
	InsertCommand(ctx context.Context, w *outbox.WriteConn, cmd domain.Command) (domain.Command, error)
	PendingCommands(ctx context.Context, hostID ids.HostID) ([]domain.Command, error)
	AckCommand(ctx context.Context, cmdID ids.CommandID, exitCode domain.CommandExitCode, exitMessage string, retryHintSeconds *int) (domain.Command, error)
	DeletePendingForNode(ctx context.Context, w *outbox.WriteConn, nodeID ids.NodeID) error
	GetCommand(ctx context.Context, cmdID ids.CommandID) (domain.Command, error)
}

// RetryHook is invoked when a non-success CreateNode ack arrives, so the node
// lifecycle's failure handler (node.Lifecycle.HandleCreateFailure) can run
// without Queue importing internal/node, which imports this package.
type RetryHook func(ctx context.Context, cmd domain.Command) error

// Queue is C7.
type Queue struct {
	store Store
	onCreateNodeFailure RetryHook
}

// Option customises a Queue.
type Option func(*Queue)

// WithCreateNodeRetryHook registers the callback invoked on any CreateNode
// ack whose exit code is not CommandExitOk.
func WithCreateNodeRetryHook(hook RetryHook) Option {
	return func(q *Queue) { q.onCreateNodeFailure = hook }
}

// New builds a Queue.
func New(store Store, opts ...Option) *Queue {
	q := &Queue{store: store}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue writes a new command atomically alongside whatever state change
// produced it, using the caller's open WriteConn, and publishes a
// command-available notice on the host's channel so a long-polling agent
// wakes immediately after commit (§4.7 "enqueue atomic with state change").
func (q *Queue) Enqueue(ctx context.Context, w *outbox.WriteConn, hostID ids.HostID, nodeID *ids.NodeID, kind domain.CommandKind, subCommand string) (domain.Command, error) {
	cmd := domain.Command{
		ID:         ids.NewCommandID(),
		HostID:     hostID,
		NodeID:     nodeID,
		Kind:       kind,
		SubCommand: subCommand,
		CreatedAt:  time.Now(),
	}
	inserted, err := q.store.InsertCommand(ctx, w, cmd)
	if err != nil {
		return domain.Command{}, svcerrors.DatabaseError("insert command", err)
	}
	w.Publish(outbox.CommandAvailableChannel(hostID.String()), inserted.ID.String())
	return inserted, nil
}

// Pending returns every un-acked command for a host, oldest first, giving
// the per-host FIFO ordering guarantee (§4.7).
func (q *Queue) Pending(ctx context.Context, hostID ids.HostID) ([]domain.Command, error) {
	cmds, err := q.store.PendingCommands(ctx, hostID)
	if err != nil {
		return nil, svcerrors.DatabaseError("list pending commands", err)
	}
	return cmds, nil
}

// Ack records a host agent's report of a command's outcome. A non-success
// exit on a CreateNode command triggers the registered retry hook, if any
// (§4.7).
func (q *Queue) Ack(ctx context.Context, cmdID ids.CommandID, exitCode domain.CommandExitCode, exitMessage string, retryHintSeconds *int) (domain.Command, error) {
	acked, err := q.store.AckCommand(ctx, cmdID, exitCode, exitMessage, retryHintSeconds)
	if err != nil {
		return domain.Command{}, svcerrors.DatabaseError("ack command", err)
	}

	if acked.Kind == domain.CommandCreateNode && exitCode != domain.CommandExitOk {
		if q.onCreateNodeFailure != nil {
			if err := q.onCreateNodeFailure(ctx, acked); err != nil {
				return acked, err
			}
		}
	}
	return acked, nil
}

// DeletePendingForNode removes every still-pending command targeting a node,
// used by node deletion so a queued create/upgrade never races a delete
// (§4.6 Delete step "delete pending commands").
func (q *Queue) DeletePendingForNode(ctx context.Context, w *outbox.WriteConn, nodeID ids.NodeID) error {
	if err := q.store.DeletePendingForNode(ctx, w, nodeID); err != nil {
		return svcerrors.DatabaseError("delete pending commands for node", err)
	}
	return nil
}

// Get fetches a single command by id, used by handlers validating an ack
// before applying it.
func (q *Queue) Get(ctx context.Context, cmdID ids.CommandID) (domain.Command, error) {
	cmd, err := q.store.GetCommand(ctx, cmdID)
	if err != nil {
		return domain.Command{}, svcerrors.NotFound("command", cmdID.String())
	}
	return cmd, nil
}
