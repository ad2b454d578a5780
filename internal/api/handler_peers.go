package api

import (
	"net/http"

	"github.com/gatewarden/warden/internal/model"
	"github.com/gatewarden/warden/internal/service"
)

type createPeerRequest struct {
	ClientID  string `json:"client_id"`
	ClusterID string `json:"cluster_id"`
	AppType   string `json:"app_type"`
	Protocol  string `json:"protocol"`
}

type updatePeerRequest struct {
	AppType  string `json:"app_type"`
	Protocol string `json:"protocol"`
}

// HandleListPeers returns a handler for GET /api/v1/peers. Optional
// client_id and cluster_id query parameters scope the listing.
func HandleListPeers(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		clientID := r.URL.Query().Get("client_id")
		clusterID := r.URL.Query().Get("cluster_id")
		if clientID != "" && clusterID != "" {
			writeInvalidArgument(w, "client_id and cluster_id are mutually exclusive")
			return
		}
		peers, err := cp.ListPeers(clientID, clusterID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WritePage(w, http.StatusOK, peers, p)
	}
}

// HandleCreatePeer returns a handler for POST /api/v1/peers.
func HandleCreatePeer(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPeerRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if !ValidateUUID(req.ClientID) {
			writeInvalidArgument(w, "client_id: must be a valid UUID")
			return
		}
		if !ValidateUUID(req.ClusterID) {
			writeInvalidArgument(w, "cluster_id: must be a valid UUID")
			return
		}
		provision, err := cp.CreatePeer(r.Context(), req.ClientID, req.ClusterID, model.AppType(req.AppType), req.Protocol)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, provision)
	}
}

// HandleGetPeer returns a handler for GET /api/v1/peers/{id}.
func HandleGetPeer(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "peer_id")
		if !ok {
			return
		}
		peer, err := cp.GetPeer(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, peer)
	}
}

// HandleUpdatePeer returns a handler for PATCH /api/v1/peers/{id}.
func HandleUpdatePeer(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "peer_id")
		if !ok {
			return
		}
		var req updatePeerRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		provision, err := cp.UpdatePeer(r.Context(), id, model.AppType(req.AppType), req.Protocol)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, provision)
	}
}

// HandleDeletePeer returns a handler for DELETE /api/v1/peers/{id}.
func HandleDeletePeer(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "peer_id")
		if !ok {
			return
		}
		if err := cp.DeletePeer(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandlePeerConfigURL returns a handler for GET /api/v1/peers/{id}/config-url.
func HandlePeerConfigURL(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "peer_id")
		if !ok {
			return
		}
		url, err := cp.PeerConfigURL(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"config_url": url})
	}
}

// HandlePeerStatus returns a handler for GET /api/v1/peers/{id}/status.
// Responds with null when no live snapshot is within TTL.
func HandlePeerStatus(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "peer_id")
		if !ok {
			return
		}
		status, err := cp.PeerLiveStatus(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, status)
	}
}
