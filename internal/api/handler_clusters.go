package api

import (
	"net/http"

	"github.com/gatewarden/warden/internal/service"
)

type createClusterRequest struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
}

type updateClusterRequest struct {
	Name         *string `json:"name"`
	Endpoint     *string `json:"endpoint"`
	IsActive     *bool   `json:"is_active"`
	RotateAPIKey bool    `json:"rotate_api_key"`
}

// clusterCreatedResponse carries the minted api key exactly once, at
// registration time. It is never readable again through the API.
type clusterCreatedResponse struct {
	service.ClusterView
	APIKey string `json:"api_key"`
}

// HandleListClusters returns a handler for GET /api/v1/clusters.
func HandleListClusters(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clusters, err := cp.ListClusters()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, clusters)
	}
}

// HandleCreateCluster returns a handler for POST /api/v1/clusters.
func HandleCreateCluster(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createClusterRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		cluster, err := cp.CreateCluster(req.Name, req.Endpoint)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, clusterCreatedResponse{
			ClusterView: service.ClusterView{Cluster: *cluster},
			APIKey:      cluster.APIKey,
		})
	}
}

// HandleGetCluster returns a handler for GET /api/v1/clusters/{id}.
func HandleGetCluster(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "cluster_id")
		if !ok {
			return
		}
		view, err := cp.GetCluster(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

// HandleUpdateCluster returns a handler for PATCH /api/v1/clusters/{id}.
func HandleUpdateCluster(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "cluster_id")
		if !ok {
			return
		}
		var req updateClusterRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		cluster, err := cp.UpdateCluster(id, service.ClusterUpdate{
			Name:         req.Name,
			Endpoint:     req.Endpoint,
			IsActive:     req.IsActive,
			RotateAPIKey: req.RotateAPIKey,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if req.RotateAPIKey {
			WriteJSON(w, http.StatusOK, clusterCreatedResponse{
				ClusterView: service.ClusterView{Cluster: *cluster},
				APIKey:      cluster.APIKey,
			})
			return
		}
		WriteJSON(w, http.StatusOK, cluster)
	}
}

// HandleDeleteCluster returns a handler for DELETE /api/v1/clusters/{id}.
func HandleDeleteCluster(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "cluster_id")
		if !ok {
			return
		}
		if err := cp.DeleteCluster(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleRestartCluster returns a handler for
// POST /api/v1/clusters/{id}/actions/restart.
func HandleRestartCluster(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "cluster_id")
		if !ok {
			return
		}
		if err := cp.RestartCluster(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "restart requested"})
	}
}

// HandleClusterPeerStatuses returns a handler for
// GET /api/v1/clusters/{id}/peer-statuses.
func HandleClusterPeerStatuses(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "cluster_id")
		if !ok {
			return
		}
		statuses, err := cp.ListClusterPeerStatuses(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, statuses)
	}
}

// HandleClusterStats returns a handler for GET /api/v1/clusters/{id}/stats.
func HandleClusterStats(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "cluster_id")
		if !ok {
			return
		}
		stats, err := cp.ClusterStatsFor(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

// HandleSyncCluster returns a handler for POST /api/v1/clusters/sync.
// Authentication is the pushing cluster's own api key, not the admin token.
func HandleSyncCluster(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			WriteError(w, http.StatusUnauthorized, "AUTH_FAILURE", "missing X-API-Key header")
			return
		}
		var req service.SyncRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		result, err := cp.SyncCluster(r.Context(), apiKey, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}
