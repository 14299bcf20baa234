package outbox

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	published []Event
	failChan  string
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload interface{}) error {
	if channel == b.failChan {
		return assert.AnError
	}
	b.published = append(b.published, Event{Channel: channel, Payload: payload})
	return nil
}

func TestDrainer_CommitPublishesQueuedEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	w, err := Begin(context.Background(), db)
	require.NoError(t, err)
	w.Publish("commands_host_abc", "hello")
	w.Notify("node_state_changed", map[string]string{"id": "n1"})

	var notified []Meta
	bus := &fakeBus{}
	drainer := NewDrainer(bus, func(m Meta) { notified = append(notified, m) }, nil)

	require.NoError(t, drainer.Commit(context.Background(), w))
	require.Len(t, bus.published, 1)
	assert.Equal(t, "commands_host_abc", bus.published[0].Channel)
	require.Len(t, notified, 1)
	assert.Equal(t, "node_state_changed", notified[0].Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteConn_AbortDiscardsQueuedWork(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	w, err := Begin(context.Background(), db)
	require.NoError(t, err)
	w.Publish("commands_host_abc", "hello")

	require.NoError(t, w.Abort())
	assert.Empty(t, w.events)
	assert.Empty(t, w.metas)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDrainer_PublishFailureIsLoggedNotFatal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	w, err := Begin(context.Background(), db)
	require.NoError(t, err)
	w.Publish("bad_channel", "x")

	bus := &fakeBus{failChan: "bad_channel"}
	drainer := NewDrainer(bus, nil, nil)

	require.NoError(t, drainer.Commit(context.Background(), w))
	require.NoError(t, mock.ExpectationsWereMet())
}
