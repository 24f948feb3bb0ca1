// Package api exposes the HTTP surface: thread and message endpoints,
// call-session lifecycle, signal relay lanes, and presence.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatrelay/pkg/api/handlers"
	"chatrelay/pkg/call"
	"chatrelay/pkg/notify"
	"chatrelay/pkg/telemetry"
)

// Handler returns the router with all /v1 endpoints registered.
func Handler(coord *call.Coordinator, disp *notify.Dispatcher) http.Handler {
	r := mux.NewRouter()
	r.Use(telemetry.Middleware)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterThreads(v1, disp)
	handlers.RegisterCalls(v1, coord)
	handlers.RegisterSignals(v1)
	handlers.RegisterPresence(v1)
	return r
}
