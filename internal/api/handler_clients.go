package api

import (
	"net/http"

	"github.com/gatewarden/warden/internal/service"
)

type createClientRequest struct {
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

type subscribeRequest struct {
	TariffCode string `json:"tariff_code"`
}

// HandleListClients returns a handler for GET /api/v1/clients.
func HandleListClients(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		clients, err := cp.ListClients()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WritePage(w, http.StatusOK, clients, p)
	}
}

// HandleCreateClient returns a handler for POST /api/v1/clients.
func HandleCreateClient(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createClientRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		client, err := cp.CreateClient(req.Username, req.Admin)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, client)
	}
}

// HandleGetClient returns a handler for GET /api/v1/clients/{id}.
func HandleGetClient(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "client_id")
		if !ok {
			return
		}
		client, err := cp.GetClient(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, client)
	}
}

// HandleDeleteClient returns a handler for DELETE /api/v1/clients/{id}.
func HandleDeleteClient(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "client_id")
		if !ok {
			return
		}
		if err := cp.DeleteClient(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleSubscribeClient returns a handler for
// POST /api/v1/clients/{id}/actions/subscribe.
func HandleSubscribeClient(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "client_id")
		if !ok {
			return
		}
		var req subscribeRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if req.TariffCode == "" {
			writeInvalidArgument(w, "tariff_code: must be non-empty")
			return
		}
		client, err := cp.Subscribe(r.Context(), id, req.TariffCode)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, client)
	}
}
