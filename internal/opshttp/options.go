package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/health"
)

// Options configures the ops listener. Nil probes always pass.
type Options struct {
	Port int

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	// EnablePprof mounts /debug/pprof/. Off, the prefix answers 404.
	EnablePprof bool

	Health    health.Probe
	Readiness health.Probe

	UseRecoverMW bool
	// OnPanic runs after a recovered panic is logged.
	OnPanic func()
}
