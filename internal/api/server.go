package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/gatewarden/warden/internal/buildinfo"
	"github.com/gatewarden/warden/internal/service"
)

// Server wraps the HTTP server and mux for the Warden API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new API server wired with all routes.
func NewServer(
	listenAddress string,
	port int,
	adminToken string,
	cp *service.ControlPlane,
	apiMaxBodyBytes int64,
) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())

	// Node-facing sync push, authenticated by the cluster's own api key.
	// More specific than the /api/ catch-all, so it bypasses admin auth.
	mux.Handle("POST /api/v1/clusters/sync",
		RequestBodyLimitMiddleware(apiMaxBodyBytes, HandleSyncCluster(cp)))

	// Authenticated routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/system/info", HandleSystemInfo())

	// Clusters.
	authed.Handle("GET /api/v1/clusters", HandleListClusters(cp))
	authed.Handle("POST /api/v1/clusters", HandleCreateCluster(cp))
	authed.Handle("GET /api/v1/clusters/{id}", HandleGetCluster(cp))
	authed.Handle("PATCH /api/v1/clusters/{id}", HandleUpdateCluster(cp))
	authed.Handle("DELETE /api/v1/clusters/{id}", HandleDeleteCluster(cp))
	authed.Handle("POST /api/v1/clusters/{id}/actions/restart", HandleRestartCluster(cp))
	authed.Handle("GET /api/v1/clusters/{id}/peer-statuses", HandleClusterPeerStatuses(cp))
	authed.Handle("GET /api/v1/clusters/{id}/stats", HandleClusterStats(cp))

	// Clients.
	authed.Handle("GET /api/v1/clients", HandleListClients(cp))
	authed.Handle("POST /api/v1/clients", HandleCreateClient(cp))
	authed.Handle("GET /api/v1/clients/{id}", HandleGetClient(cp))
	authed.Handle("DELETE /api/v1/clients/{id}", HandleDeleteClient(cp))
	authed.Handle("POST /api/v1/clients/{id}/actions/subscribe", HandleSubscribeClient(cp))

	// Peers.
	authed.Handle("GET /api/v1/peers", HandleListPeers(cp))
	authed.Handle("POST /api/v1/peers", HandleCreatePeer(cp))
	authed.Handle("GET /api/v1/peers/{id}", HandleGetPeer(cp))
	authed.Handle("PATCH /api/v1/peers/{id}", HandleUpdatePeer(cp))
	authed.Handle("DELETE /api/v1/peers/{id}", HandleDeletePeer(cp))
	authed.Handle("GET /api/v1/peers/{id}/config-url", HandlePeerConfigURL(cp))
	authed.Handle("GET /api/v1/peers/{id}/status", HandlePeerStatus(cp))

	// Tariffs.
	authed.Handle("GET /api/v1/tariffs", HandleListTariffs(cp))
	authed.Handle("POST /api/v1/tariffs", HandleCreateTariff(cp))
	authed.Handle("GET /api/v1/tariffs/{id}", HandleGetTariff(cp))
	authed.Handle("PUT /api/v1/tariffs/{id}", HandleUpdateTariff(cp))
	authed.Handle("DELETE /api/v1/tariffs/{id}", HandleDeleteTariff(cp))

	// Stats.
	authed.Handle("GET /api/v1/stats/summary", HandleSummaryStats(cp))

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(adminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// HandleSystemInfo returns a handler for GET /api/v1/system/info.
func HandleSystemInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"version":    buildinfo.Version,
			"git_commit": buildinfo.GitCommit,
			"build_time": buildinfo.BuildTime,
		})
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
