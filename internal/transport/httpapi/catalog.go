package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/infrastructure/httputil"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
)

// Catalog reads are available to any authenticated caller; no per-target
// authorization check is needed since nothing here is org/host/node scoped.

func (s *Server) handleListBlockchains(w http.ResponseWriter, r *http.Request) {
	meta := requestMetadata(r)
	if _, err := s.Authz.Authorize(r.Context(), meta, nil, nil); err != nil {
		writeError(w, r, err)
		return
	}

	var visibility *domain.BlockchainVisibility
	if v := r.URL.Query().Get("visibility"); v != "" {
		bv := domain.BlockchainVisibility(v)
		visibility = &bv
	}

	list, err := s.Catalog.ListBlockchains(r.Context(), visibility)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleNodeTypesFor(w http.ResponseWriter, r *http.Request) {
	meta := requestMetadata(r)
	if _, err := s.Authz.Authorize(r.Context(), meta, nil, nil); err != nil {
		writeError(w, r, err)
		return
	}

	blockchainID, err := ids.ParseBlockchainID(mux.Vars(r)["blockchainID"])
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("blockchainID", "must be a valid id"))
		return
	}

	list, err := s.Catalog.NodeTypesFor(r.Context(), blockchainID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleVersionsFor(w http.ResponseWriter, r *http.Request) {
	meta := requestMetadata(r)
	if _, err := s.Authz.Authorize(r.Context(), meta, nil, nil); err != nil {
		writeError(w, r, err)
		return
	}

	nodeTypeID, err := ids.ParseNodeTypeID(mux.Vars(r)["nodeTypeID"])
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("nodeTypeID", "must be a valid id"))
		return
	}

	list, err := s.Catalog.VersionsFor(r.Context(), nodeTypeID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}
