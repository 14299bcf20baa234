// Package httpapi wires C1-C9 behind a gorilla/mux router: request
// metadata extraction, authorization, JSON encode/decode, and the
// websocket stream agents use to receive commands as the Outbox drains
// them (§4.8).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/blockjoy/controlplane/infrastructure/logging"
	"github.com/blockjoy/controlplane/infrastructure/middleware"
	"github.com/blockjoy/controlplane/internal/accounting"
	"github.com/blockjoy/controlplane/internal/authn"
	"github.com/blockjoy/controlplane/internal/authz"
	"github.com/blockjoy/controlplane/internal/catalog"
	"github.com/blockjoy/controlplane/internal/cipher"
	"github.com/blockjoy/controlplane/internal/command"
	"github.com/blockjoy/controlplane/internal/node"
	"github.com/blockjoy/controlplane/internal/outbox"
	"github.com/blockjoy/controlplane/internal/rbac"
	"github.com/blockjoy/controlplane/internal/scheduler"
	"github.com/blockjoy/controlplane/internal/secretstore"
	"github.com/blockjoy/controlplane/pkg/pgnotify"
)

// Server holds every component the HTTP surface dispatches to. It has no
// persistence of its own; every handler delegates to a C1-C9 component.
type Server struct {
	Authn       *authn.Authenticator
	Authz       *authz.Authorizer
	Cipher      *cipher.Cipher
	RBAC        *rbac.Registry
	Catalog     *catalog.Catalog
	Scheduler   *scheduler.Scheduler
	Commands    *command.Queue
	Accounting  *accounting.Accounting
	Nodes       *node.Lifecycle
	Secrets     *secretstore.NodeSecrets
	SecretStore secretstore.Store
	Bus         *pgnotify.Bus
	Begin       func(ctx context.Context) (*outbox.WriteConn, error)
	Misc        MiscStore
	Notifier    InvitationNotifier
	Log         *logging.Logger

	upgrader websocket.Upgrader
}

// New builds a Server. begin opens a *outbox.WriteConn against the
// platform's primary database handle (internal/platform/database.Open),
// threaded through so httpapi never imports database/sql directly.
func New(deps ServerDeps) *Server {
	s := &Server{
		Authn:       deps.Authn,
		Authz:       deps.Authz,
		Cipher:      deps.Cipher,
		RBAC:        deps.RBAC,
		Catalog:     deps.Catalog,
		Scheduler:   deps.Scheduler,
		Commands:    deps.Commands,
		Accounting:  deps.Accounting,
		Nodes:       deps.Nodes,
		Secrets:     deps.Secrets,
		SecretStore: deps.SecretStore,
		Bus:         deps.Bus,
		Begin:       deps.Begin,
		Misc:        deps.Misc,
		Notifier:    deps.Notifier,
		Log:         deps.Log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if s.Notifier == nil {
		s.Notifier = LoggingInvitationNotifier{Log: s.Log}
	}
	return s
}

// Router builds the full middleware chain and route table. The chain
// order (recovery -> logging -> CORS -> security headers -> body limit ->
// rate limit -> routes) mirrors infrastructure/middleware's intended
// composition; auth is enforced per-handler since required
// permissions/targets differ per route.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	recovery := middleware.NewRecoveryMiddleware(s.Log)
	cors := middleware.NewCORSMiddleware(nil)
	limiter := middleware.NewRateLimiter(20, 40, s.Log)
	secHeaders := middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders())
	bodyLimit := middleware.NewBodyLimitMiddleware(8 << 20)

	r.Use(recovery.Handler)
	r.Use(middleware.LoggingMiddleware(s.Log))
	r.Use(cors.Handler)
	r.Use(secHeaders.Handler)
	r.Use(bodyLimit.Handler)
	r.Use(limiter.Handler)

	r.HandleFunc("/discovery", s.handleDiscovery).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	r.HandleFunc("/v1/auth/refresh", s.handleRefresh).Methods(http.MethodPost)

	r.HandleFunc("/v1/host-provisions", s.handleCreateHostProvision).Methods(http.MethodPost)
	r.HandleFunc("/v1/host-provisions/{id}/claim", s.handleClaimHostProvision).Methods(http.MethodPost)

	r.HandleFunc("/v1/invitations", s.handleCreateInvitation).Methods(http.MethodPost)
	r.HandleFunc("/v1/invitations/{id}/accept", s.handleAcceptInvitation).Methods(http.MethodPost)
	r.HandleFunc("/v1/invitations/{id}/decline", s.handleDeclineInvitation).Methods(http.MethodPost)

	r.HandleFunc("/v1/catalog/blockchains", s.handleListBlockchains).Methods(http.MethodGet)
	r.HandleFunc("/v1/catalog/blockchains/{blockchainID}/node-types", s.handleNodeTypesFor).Methods(http.MethodGet)
	r.HandleFunc("/v1/catalog/node-types/{nodeTypeID}/versions", s.handleVersionsFor).Methods(http.MethodGet)

	r.HandleFunc("/v1/nodes", s.handleCreateNode).Methods(http.MethodPost)
	r.HandleFunc("/v1/nodes/{nodeID}", s.handleUpgradeNode).Methods(http.MethodPatch)
	r.HandleFunc("/v1/nodes/{nodeID}", s.handleDeleteNode).Methods(http.MethodDelete)
	r.HandleFunc("/v1/nodes/{nodeID}/status", s.handleUpdateNodeStatus).Methods(http.MethodPut)
	r.HandleFunc("/v1/nodes/{nodeID}/keyfiles/{name}", s.handleGetKeyFile).Methods(http.MethodGet)
	r.HandleFunc("/v1/nodes/{nodeID}/keyfiles/{name}", s.handlePutKeyFile).Methods(http.MethodPut)

	r.HandleFunc("/v1/hosts/{hostID}/commands/pending", s.handleCommandsPending).Methods(http.MethodGet)
	r.HandleFunc("/v1/hosts/{hostID}/commands/stream", s.handleCommandsStream)
	r.HandleFunc("/v1/commands/{commandID}/ack", s.handleCommandAck).Methods(http.MethodPost)

	return r
}

// ServerDeps is the constructor input for New, split out from Server so
// callers (cmd/controlplaned) can build it field-by-field without
// depending on Server's internal upgrader.
type ServerDeps struct {
	Authn       *authn.Authenticator
	Authz       *authz.Authorizer
	Cipher      *cipher.Cipher
	RBAC        *rbac.Registry
	Catalog     *catalog.Catalog
	Scheduler   *scheduler.Scheduler
	Commands    *command.Queue
	Accounting  *accounting.Accounting
	Nodes       *node.Lifecycle
	Secrets     *secretstore.NodeSecrets
	SecretStore secretstore.Store
	Bus         *pgnotify.Bus
	Begin       func(ctx context.Context) (*outbox.WriteConn, error)
	Misc        MiscStore
	Notifier    InvitationNotifier
	Log         *logging.Logger
}

// pendingPollInterval bounds how long handleCommandsPending blocks waiting
// for new work before returning an empty batch, so load balancers and HTTP
// clients don't need an indefinite read timeout.
const pendingPollInterval = 25 * time.Second
