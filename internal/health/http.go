package health

import (
	"io"
	"net/http"
)

// HealthzHandler answers liveness checks with "ok".
func HealthzHandler(p Probe) http.HandlerFunc { return probeHandler(p, "ok") }

// ReadyzHandler answers readiness checks with "ready".
func ReadyzHandler(p Probe) http.HandlerFunc { return probeHandler(p, "ready") }

// probeHandler serves 200 and okBody when p passes (or is nil), and 503 with
// the failure reason otherwise. Results are never cached.
func probeHandler(p Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		status, body := http.StatusOK, okBody
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				status, body = http.StatusServiceUnavailable, err.Error()
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(status)
		if r.Method != http.MethodHead {
			_, _ = io.WriteString(w, body+"\n")
		}
	}
}
