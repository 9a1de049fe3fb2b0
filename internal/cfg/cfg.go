// Package cfg holds the server configuration.
//
// Every setting is a flag. A flag left off the command line is taken from
// the environment (PREFIX_FLAG_NAME), then from the YAML file named by
// -config, then from its default.
package cfg

import (
	"flag"
	"path/filepath"
)

// Storage backends for installed package archives.
const (
	StorageDisk = "disk"
	StorageS3   = "s3"
)

// EnvPrefix is prepended to upper-cased flag names to form env keys.
const EnvPrefix = "PLUGINS_"

type App struct {
	ConfigFile string

	// logging
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// listeners
	HTTPPort         int
	AdminPort        int
	TrustedProxyHops int

	// observability
	EnablePprof     bool
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64

	// plugin registry
	DataDir         string
	RegistryFile    string
	Storage         string
	S3Bucket        string
	S3Prefix        string
	MaxPackageBytes int64
	ExtendedTypes   bool
	UploadRate      float64
	UploadBurst     int
}

// Register binds c to fs with defaults inline.
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.ConfigFile, "config", "", "optional YAML file of flag-name: value settings")

	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "attach stacks at or above debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "log func/file/line for each wrapped error")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth logged (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "ops listen TCP port for metrics, health and pprof (1..65535)")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "reverse proxies in front of the server that append X-Forwarded-For")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "serve pprof on the ops port")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "push continuous profiles to -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server URL")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "pyroscope tenant (X-Scope-OrgID)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "export OTLP traces to -otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC collector host:port")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.DataDir, "data-dir", "data", "directory holding the registry document and package archives")
	fs.StringVar(&c.RegistryFile, "registry-file", "", "registry document path (default <data-dir>/config.json)")
	fs.StringVar(&c.Storage, "storage", StorageDisk, "package archive storage: disk|s3")
	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "bucket for package archives when -storage=s3")
	fs.StringVar(&c.S3Prefix, "s3-prefix", "plugins", "key prefix for package archives in -s3-bucket")
	fs.Int64Var(&c.MaxPackageBytes, "max-package-bytes", 50<<20, "largest accepted package upload in bytes")
	fs.BoolVar(&c.ExtendedTypes, "extended-types", false, "accept gif/webp/woff2/css/json/txt assets besides png/jpeg")
	fs.Float64Var(&c.UploadRate, "upload-rate", 1, "per-client install/validate/remove requests per second")
	fs.IntVar(&c.UploadBurst, "upload-burst", 5, "per-client install/validate/remove burst")
}

// RegistryPath is the registry document location.
func (c App) RegistryPath() string {
	if c.RegistryFile != "" {
		return c.RegistryFile
	}
	return filepath.Join(c.DataDir, "config.json")
}

// PluginsDir is where disk storage keeps package archives.
func (c App) PluginsDir() string {
	return filepath.Join(c.DataDir, "plugins")
}
