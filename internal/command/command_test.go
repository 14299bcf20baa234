package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
	"github.com/blockjoy/controlplane/internal/outbox"
)

type fakeStore struct {
	commands       []domain.Command
	ackedExitCode  domain.CommandExitCode
}

func (s *fakeStore) InsertCommand(ctx context.Context, w *outbox.WriteConn, cmd domain.Command) (domain.Command, error) {
	s.commands = append(s.commands, cmd)
	return cmd, nil
}

func (s *fakeStore) PendingCommands(ctx context.Context, hostID ids.HostID) ([]domain.Command, error) {
	var out []domain.Command
	for _, c := range s.commands {
		if c.HostID == hostID && c.IsPending() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) AckCommand(ctx context.Context, cmdID ids.CommandID, exitCode domain.CommandExitCode, exitMessage string, retryHintSeconds *int) (domain.Command, error) {
	for i, c := range s.commands {
		if c.ID == cmdID {
			now := c.CreatedAt
			s.commands[i].AckedAt = &now
			s.commands[i].ExitCode = &exitCode
			s.commands[i].ExitMessage = exitMessage
			s.commands[i].RetryHintSeconds = retryHintSeconds
			return s.commands[i], nil
		}
	}
	return domain.Command{}, assertAnError{}
}

type assertAnError struct{}

func (assertAnError) Error() string { return "not found" }

func (s *fakeStore) DeletePendingForNode(ctx context.Context, w *outbox.WriteConn, nodeID ids.NodeID) error {
	var kept []domain.Command
	for _, c := range s.commands {
		if c.NodeID != nil && *c.NodeID == nodeID && c.IsPending() {
			continue
		}
		kept = append(kept, c)
	}
	s.commands = kept
	return nil
}

func (s *fakeStore) GetCommand(ctx context.Context, cmdID ids.CommandID) (domain.Command, error) {
	for _, c := range s.commands {
		if c.ID == cmdID {
			return c, nil
		}
	}
	return domain.Command{}, assertAnError{}
}

func TestEnqueue_InsertsPendingCommandForHost(t *testing.T) {
	store := &fakeStore{}
	q := New(store)
	hostID := ids.NewHostID()
	w := &outbox.WriteConn{}

	cmd, err := q.Enqueue(context.Background(), w, hostID, nil, domain.CommandCreateNode, "")
	require.NoError(t, err)
	assert.Equal(t, hostID, cmd.HostID)
	assert.True(t, cmd.IsPending())
}

func TestPending_OrdersByInsertion(t *testing.T) {
	store := &fakeStore{}
	q := New(store)
	hostID := ids.NewHostID()
	w := &outbox.WriteConn{}

	first, err := q.Enqueue(context.Background(), w, hostID, nil, domain.CommandCreateNode, "")
	require.NoError(t, err)
	second, err := q.Enqueue(context.Background(), w, hostID, nil, domain.CommandUpdateNode, "")
	require.NoError(t, err)

	pending, err := q.Pending(context.Background(), hostID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}

func TestAck_NonSuccessCreateNodeTriggersRetryHook(t *testing.T) {
	store := &fakeStore{}
	var retried domain.Command
	hookCalled := false
	q := New(store, WithCreateNodeRetryHook(func(ctx context.Context, cmd domain.Command) error {
		hookCalled = true
		retried = cmd
		return nil
	}))
	hostID := ids.NewHostID()
	w := &outbox.WriteConn{}

	cmd, err := q.Enqueue(context.Background(), w, hostID, nil, domain.CommandCreateNode, "")
	require.NoError(t, err)

	_, err = q.Ack(context.Background(), cmd.ID, domain.CommandExitFailed, "boom", nil)
	require.NoError(t, err)
	assert.True(t, hookCalled)
	assert.Equal(t, cmd.ID, retried.ID)
}

func TestAck_SuccessDoesNotTriggerRetryHook(t *testing.T) {
	store := &fakeStore{}
	hookCalled := false
	q := New(store, WithCreateNodeRetryHook(func(ctx context.Context, cmd domain.Command) error {
		hookCalled = true
		return nil
	}))
	hostID := ids.NewHostID()
	w := &outbox.WriteConn{}

	cmd, err := q.Enqueue(context.Background(), w, hostID, nil, domain.CommandCreateNode, "")
	require.NoError(t, err)

	_, err = q.Ack(context.Background(), cmd.ID, domain.CommandExitOk, "", nil)
	require.NoError(t, err)
	assert.False(t, hookCalled)
}

func TestDeletePendingForNode_RemovesOnlyThatNode(t *testing.T) {
	store := &fakeStore{}
	q := New(store)
	hostID := ids.NewHostID()
	nodeA := ids.NewNodeID()
	nodeB := ids.NewNodeID()
	w := &outbox.WriteConn{}

	_, err := q.Enqueue(context.Background(), w, hostID, &nodeA, domain.CommandCreateNode, "")
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), w, hostID, &nodeB, domain.CommandCreateNode, "")
	require.NoError(t, err)

	require.NoError(t, q.DeletePendingForNode(context.Background(), w, nodeA))

	pending, err := q.Pending(context.Background(), hostID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, nodeB, *pending[0].NodeID)
}
