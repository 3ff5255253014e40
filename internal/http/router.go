package httpserver

import (
	"net/http"

	"chargebridge/internal/http/handlers"
	"chargebridge/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	ChargerHandlers  *handlers.ChargerHandlers
	HistoryHandlers  *handlers.HistoryHandlers
	SettingsHandlers *handlers.SettingsHandlers
	OAuthHandlers    *handlers.OAuthHandlers
	StatusSocket     http.Handler
	MetricsHandler   http.Handler
	HealthHandler    http.HandlerFunc
}

// NewRouter wires HTTP routes with middleware.
func NewRouter(deps RouterDeps, authMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", method(http.MethodGet, deps.HealthHandler))
	mux.Handle("/metrics", method(http.MethodGet, deps.MetricsHandler))

	mux.Handle("/oauth/install", method(http.MethodGet, http.HandlerFunc(deps.OAuthHandlers.Install)))
	mux.Handle("/oauth/init-user", method(http.MethodGet, http.HandlerFunc(deps.OAuthHandlers.InitUser)))
	mux.Handle("/oauth/callback", method(http.MethodGet, http.HandlerFunc(deps.OAuthHandlers.Callback)))

	authenticated := func(handler http.HandlerFunc) http.Handler {
		return middleware.Chain(handler, authMiddleware)
	}

	mux.Handle("/api/chargers", method(http.MethodGet, authenticated(deps.ChargerHandlers.List)))
	mux.Handle("/api/chargers/{chargerID}/start", method(http.MethodPost, authenticated(deps.ChargerHandlers.Start)))
	mux.Handle("/api/chargers/{chargerID}/stop", method(http.MethodPost, authenticated(deps.ChargerHandlers.Stop)))
	mux.Handle("/api/chargers/{chargerID}/authorize", method(http.MethodPost, authenticated(deps.ChargerHandlers.Authorize)))
	mux.Handle("/api/chargers/{chargerID}/deauthorize", method(http.MethodPost, authenticated(deps.ChargerHandlers.Deauthorize)))

	mux.Handle("/api/sessions/history", method(http.MethodGet, authenticated(deps.HistoryHandlers.List)))

	mux.Handle("/api/settings", methods(map[string]http.Handler{
		http.MethodGet: authenticated(deps.SettingsHandlers.Get),
		http.MethodPut: authenticated(deps.SettingsHandlers.Update),
	}))
	mux.Handle("/api/resources", method(http.MethodGet, authenticated(deps.SettingsHandlers.Resources)))
	mux.Handle("/api/memberships", method(http.MethodGet, authenticated(deps.SettingsHandlers.Memberships)))

	mux.Handle("/api/ws/status", method(http.MethodGet, middleware.Chain(deps.StatusSocket, authMiddleware)))

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func methods(byMethod map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler, ok := byMethod[r.Method]
		if !ok {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
