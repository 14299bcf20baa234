package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/infrastructure/httputil"
	"github.com/blockjoy/controlplane/internal/authz"
	"github.com/blockjoy/controlplane/internal/cipher"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
	"github.com/blockjoy/controlplane/internal/outbox"
	"github.com/blockjoy/controlplane/pkg/pgnotify"
)

// handleCommandsPending is the long-poll fallback for agents that can't
// hold a websocket open: it blocks up to pendingPollInterval re-checking
// for pending commands before returning an (possibly empty) batch.
func (s *Server) handleCommandsPending(w http.ResponseWriter, r *http.Request) {
	hostID, err := ids.ParseHostID(mux.Vars(r)["hostID"])
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("hostID", "must be a valid id"))
		return
	}

	meta := requestMetadata(r)
	targets := []authz.TargetResource{{Kind: cipher.ResourceHost, ID: hostID.String()}}
	if _, err := s.Authz.Authorize(r.Context(), meta, []string{"command-pending"}, targets); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pendingPollInterval)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		cmds, err := s.Commands.Pending(ctx, hostID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if len(cmds) > 0 {
			httputil.WriteJSON(w, http.StatusOK, cmds)
			return
		}
		select {
		case <-ctx.Done():
			httputil.WriteJSON(w, http.StatusOK, []domain.Command{})
			return
		case <-ticker.C:
		}
	}
}

// handleCommandsStream upgrades to a websocket and forwards the payload of
// each notice the Outbox publishes for this host (CommandAvailableChannel,
// carrying the new command's id) as they're drained, so an agent learns of
// dispatch without polling (§4.8). Notices that arrive while 16 are already
// buffered are dropped.
func (s *Server) handleCommandsStream(w http.ResponseWriter, r *http.Request) {
	hostID, err := ids.ParseHostID(mux.Vars(r)["hostID"])
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("hostID", "must be a valid id"))
		return
	}

	meta := requestMetadata(r)
	targets := []authz.TargetResource{{Kind: cipher.ResourceHost, ID: hostID.String()}}
	if _, err := s.Authz.Authorize(r.Context(), meta, []string{"command-pending"}, targets); err != nil {
		writeError(w, r, err)
		return
	}

	if s.Bus == nil {
		writeError(w, r, svcerrors.Unavailable("command streaming is unavailable without a database connection"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.WithError(err).Error("commands stream: websocket upgrade failed")
		return
	}
	defer conn.Close()

	channel := outbox.CommandAvailableChannel(hostID.String())
	events := make(chan pgnotify.Event, 16)
	if err := s.Bus.Subscribe(channel, func(ctx context.Context, event pgnotify.Event) error {
		select {
		case events <- event:
		default:
		}
		return nil
	}); err != nil {
		s.Log.WithError(err).Error("commands stream: subscribe failed")
		return
	}
	defer s.Bus.Unsubscribe(channel)

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-events:
			if err := conn.WriteMessage(websocket.TextMessage, event.Payload); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleCommandAck(w http.ResponseWriter, r *http.Request) {
	cmdID, err := ids.ParseCommandID(mux.Vars(r)["commandID"])
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("commandID", "must be a valid id"))
		return
	}

	var body struct {
		ExitCode         domain.CommandExitCode `json:"exit_code"`
		ExitMessage      string                 `json:"exit_message"`
		RetryHintSeconds *int                   `json:"retry_hint_seconds"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}

	cmd, err := s.Commands.Get(r.Context(), cmdID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	meta := requestMetadata(r)
	targets := []authz.TargetResource{{Kind: cipher.ResourceHost, ID: cmd.HostID.String()}}
	if _, err := s.Authz.Authorize(r.Context(), meta, []string{"command-ack"}, targets); err != nil {
		writeError(w, r, err)
		return
	}

	acked, err := s.Commands.Ack(r.Context(), cmdID, body.ExitCode, body.ExitMessage, body.RetryHintSeconds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acked)
}
