package cfg

import (
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
)

// Validate reports every out-of-range or inconsistent setting at once.
func Validate(c App) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		add("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		add("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.AdminPort == c.HTTPPort {
		add("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}
	if c.TrustedProxyHops < 0 {
		add("TRUSTED_PROXY_HOPS must be >= 0 (got %d)", c.TrustedProxyHops)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		add("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			add("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err)
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		add("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		add("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}
	if c.EnableTracing {
		// the gRPC exporter takes host:port without a scheme
		if c.OTLPEndpoint == "" {
			add("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			add("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}
	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			add("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			add("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}

	if c.DataDir == "" {
		add("DATA_DIR is required")
	}
	switch c.Storage {
	case StorageDisk:
	case StorageS3:
		if c.S3Bucket == "" {
			add("S3_BUCKET required when STORAGE=s3")
		}
	default:
		add("invalid STORAGE %q (must be %s or %s)", c.Storage, StorageDisk, StorageS3)
	}
	if c.MaxPackageBytes < 1 {
		add("MAX_PACKAGE_BYTES must be positive (got %d)", c.MaxPackageBytes)
	}
	if c.UploadRate <= 0 || c.UploadBurst < 1 {
		add("UPLOAD_RATE and UPLOAD_BURST must be positive (got %g, %d)", c.UploadRate, c.UploadBurst)
	}

	return errors.Join(errs...)
}
