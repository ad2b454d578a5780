package api

import "net/http"

// HandleHealthz returns the unauthenticated liveness probe. It only asserts
// the process is serving; it does not touch the store or any node.
func HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
