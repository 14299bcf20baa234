package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/infrastructure/httputil"
	"github.com/blockjoy/controlplane/infrastructure/logging"
	"github.com/blockjoy/controlplane/internal/accounting"
	"github.com/blockjoy/controlplane/internal/authz"
	"github.com/blockjoy/controlplane/internal/cipher"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
)

// MiscStore is the persistence the transport layer calls for the
// supplemented-feature surfaces that don't belong to any single C1-C9
// component: invitations and host-provisioning tokens.
type MiscStore interface {
	CreateHostProvision(ctx context.Context, hp domain.HostProvision) (domain.HostProvision, error)
	ClaimHostProvision(ctx context.Context, id string) (domain.HostProvision, error)
	CreateInvitation(ctx context.Context, inv domain.Invitation) (domain.Invitation, error)
	GetInvitation(ctx context.Context, id ids.InvitationID) (domain.Invitation, error)
	AcceptInvitation(ctx context.Context, id ids.InvitationID) error
	DeclineInvitation(ctx context.Context, id ids.InvitationID) error
}

// InvitationNotifier delivers a created invitation to its invitee, outside
// the request/response cycle so a slow or failed notification never blocks
// the invitation itself from being recorded.
type InvitationNotifier interface {
	NotifyInvitation(ctx context.Context, inv domain.Invitation)
}

// LoggingInvitationNotifier is the default notifier: it logs the invite
// instead of sending it, standing in until a real mailer is wired.
type LoggingInvitationNotifier struct {
	Log *logging.Logger
}

func (n LoggingInvitationNotifier) NotifyInvitation(ctx context.Context, inv domain.Invitation) {
	if n.Log == nil {
		return
	}
	n.Log.Info(ctx, "invitation created", map[string]interface{}{
		"invitation_id": inv.ID.String(),
		"org_id":        inv.OrgID.String(),
		"invitee_email": inv.InviteeEmail,
	})
}

// handleDiscovery is unauthenticated: agents and UIs call it before they
// hold a token, to learn the API version and where the command stream
// lives (§9 "discovery endpoint").
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"api_version":    "v1",
		"stream_path":    "/v1/hosts/{hostID}/commands/stream",
		"discovered_at":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snapshot, err := accounting.SelfHealthSnapshot()
	if err != nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "host": snapshot})
}

// handleRefresh exchanges a refresh token for a freshly issued bearer
// token, without requiring the expired bearer itself (§4.3 MaybeRefresh).
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	meta := requestMetadata(r)
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	httputil.DecodeJSONOptional(w, r, &body)
	if meta.RefreshHeaderValue == "" {
		meta.RefreshBodyValue = body.RefreshToken
	}

	refresh, ok, err := s.Authn.MaybeRefresh(meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, svcerrors.InvalidInput("refresh_token", "missing"))
		return
	}

	bearer, err := s.Cipher.EncodeBearer(cipher.Claims{
		Resource:  refresh.Subject,
		Expirable: true,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		writeError(w, r, svcerrors.Internal("encode bearer", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"bearer_token": bearer})
}

func (s *Server) handleCreateHostProvision(w http.ResponseWriter, r *http.Request) {
	meta := requestMetadata(r)
	var body struct {
		OrgID          string            `json:"org_id"`
		ClaimsTemplate map[string]string `json:"claims_template"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	orgID, err := ids.ParseOrgID(body.OrgID)
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("org_id", "must be a valid id"))
		return
	}
	targets := []authz.TargetResource{{Kind: cipher.ResourceOrg, ID: orgID.String()}}
	if _, err := s.Authz.AuthorizeOrAll(r.Context(), meta, "org-admin-update", "org-update", targets); err != nil {
		writeError(w, r, err)
		return
	}

	hp, err := s.Misc.CreateHostProvision(r.Context(), domain.HostProvision{OrgID: orgID, ClaimsTemplate: body.ClaimsTemplate})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, hp)
}

// handleClaimHostProvision is how a freshly booted physical host redeems
// its one-time provisioning token for a long-lived host bearer token
// (§9). It is intentionally unauthenticated beyond the token itself.
func (s *Server) handleClaimHostProvision(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	hp, err := s.Misc.ClaimHostProvision(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	claims := cipher.Claims{
		Resource:  cipher.Resource{Kind: cipher.ResourceHost, ID: hp.OrgID.String()},
		Expirable: false,
		Data:      hp.ClaimsTemplate,
	}
	bearer, err := s.Cipher.EncodeBearer(claims)
	if err != nil {
		writeError(w, r, svcerrors.Internal("encode bearer", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"bearer_token": bearer})
}

// handleCreateInvitation records an org invitation and fires off the
// notifier; the notifier runs synchronously but its failure never fails the
// request, since the invitation itself is already durable at that point.
func (s *Server) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrgID        string `json:"org_id"`
		InviteeEmail string `json:"invitee_email"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	orgID, err := ids.ParseOrgID(body.OrgID)
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("org_id", "must be a valid id"))
		return
	}
	if body.InviteeEmail == "" {
		writeError(w, r, svcerrors.InvalidInput("invitee_email", "is required"))
		return
	}

	meta := requestMetadata(r)
	targets := []authz.TargetResource{{Kind: cipher.ResourceOrg, ID: orgID.String()}}
	decision, err := s.Authz.AuthorizeOrAll(r.Context(), meta, "invitation-admin-create", "invitation-create", targets)
	if err != nil {
		writeError(w, r, err)
		return
	}

	inv := domain.Invitation{OrgID: orgID, InviteeEmail: body.InviteeEmail}
	if decision.Claims.Resource.Kind == cipher.ResourceUser {
		if invitedBy, err := ids.ParseUserID(decision.Claims.Resource.ID); err == nil {
			inv.InvitedBy = invitedBy
		}
	}

	created, err := s.Misc.CreateInvitation(r.Context(), inv)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.Notifier != nil {
		s.Notifier.NotifyInvitation(r.Context(), created)
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	s.resolveInvitation(w, r, s.Misc.AcceptInvitation)
}

func (s *Server) handleDeclineInvitation(w http.ResponseWriter, r *http.Request) {
	s.resolveInvitation(w, r, s.Misc.DeclineInvitation)
}

func (s *Server) resolveInvitation(w http.ResponseWriter, r *http.Request, resolve func(context.Context, ids.InvitationID) error) {
	id, err := ids.ParseInvitationID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("id", "must be a valid invitation id"))
		return
	}
	meta := requestMetadata(r)
	if _, err := s.Authz.Authorize(r.Context(), meta, nil, nil); err != nil {
		writeError(w, r, err)
		return
	}
	if err := resolve(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
