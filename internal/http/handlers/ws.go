package handlers

import (
	"net/http"

	"chargebridge/internal/http/middleware"
	"chargebridge/internal/ws"
)

// StatusSocket bridges the authenticated request into the push hub.
func StatusSocket(hub *ws.Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		hub.Serve(w, r, principal.SpaceID)
	})
}
