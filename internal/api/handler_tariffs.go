package api

import (
	"net/http"

	"github.com/gatewarden/warden/internal/service"
)

// HandleListTariffs returns a handler for GET /api/v1/tariffs.
func HandleListTariffs(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activeOnly, err := ParseBoolQuery(r, "active_only")
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		tariffs, err := cp.ListTariffs(activeOnly != nil && *activeOnly)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, tariffs)
	}
}

// HandleCreateTariff returns a handler for POST /api/v1/tariffs.
func HandleCreateTariff(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.TariffInput
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		tariff, err := cp.CreateTariff(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, tariff)
	}
}

// HandleGetTariff returns a handler for GET /api/v1/tariffs/{id}.
func HandleGetTariff(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "tariff_id")
		if !ok {
			return
		}
		tariff, err := cp.GetTariff(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, tariff)
	}
}

// HandleUpdateTariff returns a handler for PUT /api/v1/tariffs/{id}.
func HandleUpdateTariff(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "tariff_id")
		if !ok {
			return
		}
		var req service.TariffInput
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		tariff, err := cp.UpdateTariff(id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, tariff)
	}
}

// HandleDeleteTariff returns a handler for DELETE /api/v1/tariffs/{id}.
func HandleDeleteTariff(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "tariff_id")
		if !ok {
			return
		}
		if err := cp.DeleteTariff(id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
