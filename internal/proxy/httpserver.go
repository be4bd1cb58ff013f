package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mcpmux/gateway/internal/upstream"
)

// NewHTTPHandler builds the gateway's small operational HTTP surface:
// /metrics (Prometheus) and /healthz (aggregate upstream connection state),
// trimmed from the teacher's much larger internal/httpapi.Server down to
// what this spec's components actually need to expose. metrics may be nil.
func NewHTTPHandler(mgr *upstream.Manager, metrics *Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	if metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}
	r.Get("/healthz", healthzHandler(mgr))

	return r
}

type healthzResponse struct {
	Status    string            `json:"status"`
	Servers   int               `json:"servers"`
	Connected int               `json:"connected"`
	States    map[string]string `json:"states"`
}

// healthzHandler reports ok (200) once at least one configured server is
// connected (or none are configured yet, e.g. during startup), and degraded
// with 503 Service Unavailable when servers are configured but none of them
// is connected.
func healthzHandler(mgr *upstream.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		infos := mgr.Info()

		states := make(map[string]string, len(infos))
		connected := 0
		for _, info := range infos {
			states[info.Name] = string(info.State)
			if info.State == upstream.StateConnected {
				connected++
			}
		}

		status := "ok"
		code := http.StatusOK
		if len(infos) > 0 && connected == 0 {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(healthzResponse{
			Status:    status,
			Servers:   len(infos),
			Connected: connected,
			States:    states,
		})
	}
}
