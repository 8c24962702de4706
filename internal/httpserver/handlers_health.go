package httpserver

import (
	"context"
	"net/http"
	"time"
)

var serverStartTime = time.Now()

// HealthCheck probes one dependency. It must return promptly once ctx ends.
type HealthCheck func(ctx context.Context) error

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := time.Now()
	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	providers := []string{}
	for _, p := range h.gateways.Providers() {
		providers = append(providers, string(p))
	}

	resp := map[string]any{
		"status":     status,
		"uptime":     now.Sub(serverStartTime).Round(time.Second).String(),
		"timestamp":  now.UTC(),
		"providers":  providers,
		"simulation": h.payments.SimulationEnabled(),
	}
	if len(checks) > 0 {
		resp["checks"] = checks
	}
	if h.cfg.Server.RoutePrefix != "" {
		resp["routePrefix"] = h.cfg.Server.RoutePrefix
	}
	writeJSON(w, code, resp)
}
