package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/health"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // Optional callback for recovered panics, e.g. to increment prometheus counters
	MetricsMW    func(http.Handler) http.Handler
	Health       health.Probe
	Readiness    health.Probe

	// APIRoutes mounts the plugin API and file routes
	APIRoutes func(chi.Router)

	// RateLimitMW applies to every request. Upload limiting is mounted by
	// the plugin API on its mutating routes instead.
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
}
