package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/infrastructure/httputil"
	"github.com/blockjoy/controlplane/internal/authz"
	"github.com/blockjoy/controlplane/internal/cipher"
	"github.com/blockjoy/controlplane/internal/domain"
	"github.com/blockjoy/controlplane/internal/ids"
	"github.com/blockjoy/controlplane/internal/node"
)

type createNodeBody struct {
	OrgID           string                   `json:"org_id"`
	BlockchainID    string                   `json:"blockchain_id"`
	NodeTypeID      string                   `json:"node_type_id"`
	VersionID       string                   `json:"version_id"`
	PropertyValues  map[string]string        `json:"property_values"`
	AllowIPs        []domain.FirewallRule    `json:"allow_ips"`
	DenyIPs         []domain.FirewallRule    `json:"deny_ips"`
	CopySecretsFrom string                   `json:"copy_secrets_from,omitempty"`
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var body createNodeBody
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}

	orgID, err := ids.ParseOrgID(body.OrgID)
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("org_id", "must be a valid id"))
		return
	}
	blockchainID, err := ids.ParseBlockchainID(body.BlockchainID)
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("blockchain_id", "must be a valid id"))
		return
	}
	nodeTypeID, err := ids.ParseNodeTypeID(body.NodeTypeID)
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("node_type_id", "must be a valid id"))
		return
	}
	versionID, err := ids.ParseVersionID(body.VersionID)
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("version_id", "must be a valid id"))
		return
	}

	meta := requestMetadata(r)
	targets := []authz.TargetResource{{Kind: cipher.ResourceOrg, ID: orgID.String()}}
	decision, err := s.Authz.AuthorizeOrAll(r.Context(), meta, "node-admin-create", "node-create", targets)
	if err != nil {
		writeError(w, r, err)
		return
	}

	req := node.CreateRequest{
		OrgID:          orgID,
		BlockchainID:   blockchainID,
		NodeTypeID:     nodeTypeID,
		VersionID:      versionID,
		PropertyValues: body.PropertyValues,
		AllowIPs:       body.AllowIPs,
		DenyIPs:        body.DenyIPs,
	}
	if decision.Claims.Resource.Kind == cipher.ResourceUser {
		userID, err := ids.ParseUserID(decision.Claims.Resource.ID)
		if err == nil {
			req.CreatedBy = userID
		}
	}
	if body.CopySecretsFrom != "" {
		fromID, err := ids.ParseNodeID(body.CopySecretsFrom)
		if err != nil {
			writeError(w, r, svcerrors.InvalidInput("copy_secrets_from", "must be a valid node id"))
			return
		}
		req.CopySecretsFrom = &fromID
	}

	n, err := s.Nodes.Create(r.Context(), s.Begin, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, n)
}

func (s *Server) handleUpgradeNode(w http.ResponseWriter, r *http.Request) {
	nodeID, err := ids.ParseNodeID(mux.Vars(r)["nodeID"])
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("nodeID", "must be a valid id"))
		return
	}

	var body struct {
		VersionID      string            `json:"version_id"`
		PropertyValues map[string]string `json:"property_values"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	versionID, err := ids.ParseVersionID(body.VersionID)
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("version_id", "must be a valid id"))
		return
	}

	meta := requestMetadata(r)
	targets := []authz.TargetResource{{Kind: cipher.ResourceNode, ID: nodeID.String()}}
	if _, err := s.Authz.AuthorizeOrAll(r.Context(), meta, "node-admin-update", "node-update", targets); err != nil {
		writeError(w, r, err)
		return
	}

	n, err := s.Nodes.Upgrade(r.Context(), s.Begin, nodeID, node.UpgradeRequest{
		VersionID:      versionID,
		PropertyValues: body.PropertyValues,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	nodeID, err := ids.ParseNodeID(mux.Vars(r)["nodeID"])
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("nodeID", "must be a valid id"))
		return
	}

	meta := requestMetadata(r)
	targets := []authz.TargetResource{{Kind: cipher.ResourceNode, ID: nodeID.String()}}
	if _, err := s.Authz.AuthorizeOrAll(r.Context(), meta, "node-admin-delete", "node-delete", targets); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.Nodes.Delete(r.Context(), s.Begin, nodeID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateNodeStatus is the agent-reported partial-merge status update
// (§4.6). Authorized as a host-scoped write since only the node's own host
// agent should be reporting its status.
func (s *Server) handleUpdateNodeStatus(w http.ResponseWriter, r *http.Request) {
	nodeID, err := ids.ParseNodeID(mux.Vars(r)["nodeID"])
	if err != nil {
		writeError(w, r, svcerrors.InvalidInput("nodeID", "must be a valid id"))
		return
	}

	var body struct {
		ProtocolState  *string            `json:"protocol_state"`
		ProtocolHealth *domain.NodeHealth `json:"protocol_health"`
		Jobs           *[]domain.Job      `json:"jobs"`
		BlockHeight    *int64             `json:"block_height"`
		BlockAge       *int64             `json:"block_age"`
		Consensus      *bool              `json:"consensus"`
	}
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}

	meta := requestMetadata(r)
	targets := []authz.TargetResource{{Kind: cipher.ResourceNode, ID: nodeID.String()}}
	if _, err := s.Authz.Authorize(r.Context(), meta, []string{"node-update-status"}, targets); err != nil {
		writeError(w, r, err)
		return
	}

	n, err := s.Nodes.UpdateStatus(r.Context(), nodeID, node.StatusUpdate{
		ProtocolState:  body.ProtocolState,
		ProtocolHealth: body.ProtocolHealth,
		Jobs:           body.Jobs,
		BlockHeight:    body.BlockHeight,
		BlockAge:       body.BlockAge,
		Consensus:      body.Consensus,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}
