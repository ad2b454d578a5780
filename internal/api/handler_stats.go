package api

import (
	"net/http"

	"github.com/gatewarden/warden/internal/service"
)

// HandleSummaryStats returns a handler for GET /api/v1/stats/summary.
func HandleSummaryStats(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := cp.Summary()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}
