package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/health"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/plugin"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/pluginhttp"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/prof"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/registry"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/resolver"
	v "github.com/keithlinneman/linnemanlabs-plugins/internal/version"
)

// drainPeriod is how long readiness fails before listeners close
const drainPeriod = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// unset flags fall back to PLUGINS_* env vars, then the -config file
	if err := cfg.Load(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               vi.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.String(),
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"trusted_proxy_hops", conf.TrustedProxyHops,
		"registry_path", conf.RegistryPath(),
		"storage", conf.Storage,
		"s3_bucket", conf.S3Bucket,
		"s3_prefix", conf.S3Prefix,
		"max_package_bytes", conf.MaxPackageBytes,
		"extended_types", conf.ExtendedTypes,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(vi.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       vi.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Logger:        L,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		// profiling is optional, keep serving
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(err == nil && conf.EnablePyroscope)
	defer func() { stopProf() }()

	// Insecure is true because we only export to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   vi.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// plugin registry
	store, err := newArchiveStore(ctx, conf, L)
	if err != nil {
		L.Error(ctx, err, "failed to set up archive storage", "storage", conf.Storage)
		os.Exit(1)
	}

	types := plugin.DefaultTypes()
	if conf.ExtendedTypes {
		types = plugin.ExtendedTypes()
	}
	validator := plugin.NewValidator(plugin.WithTypes(types))

	reg, err := registry.New(registry.Options{
		DocumentPath: conf.RegistryPath(),
		Store:        store,
		Validator:    validator,
		Logger:       L.With("component", "registry"),
		Metrics:      m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create plugin registry")
		os.Exit(1)
	}
	if infos, err := reg.List(ctx); err != nil {
		// not fatal, readiness reports it until the document is fixed
		L.Error(ctx, err, "failed to read registry document", "path", conf.RegistryPath())
	} else {
		m.SetPluginsInstalled(len(infos))
		L.Info(ctx, "plugin registry loaded", "plugins", len(infos))
	}

	res, err := resolver.New(resolver.Options{
		Locator:  reg,
		Archives: store,
		Types:    types,
		Logger:   L.With("component", "resolver"),
		Metrics:  m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create plugin resolver")
		os.Exit(1)
	}

	// Per-ip limit for uploads and removals
	uploadLimiter := ratelimit.New(ctx, ratelimit.Options{
		PerSecond: conf.UploadRate,
		Burst:     conf.UploadBurst,
		Logger:    L.With("component", "ratelimit"),
		Metrics:   m,
	})

	api := pluginhttp.NewAPI(pluginhttp.Options{
		Registry:        reg,
		Validator:       validator,
		Resolver:        res,
		Logger:          L.With("component", "pluginhttp"),
		MaxPackageBytes: conf.MaxPackageBytes,
		MutationMW:      uploadLimiter.Middleware,
	})

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// both the shutdown gate and a readable registry document must pass
	readiness := health.All(
		gate.Probe(),
		health.CheckFunc(reg.Check),
	)

	appHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    func(r chi.Router) { api.RegisterRoutes(r) },
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = appHTTPStop(context.Background()) }()

	// ops listener rejects public peers in middleware in case it is ever exposed
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so load balancers stop routing new uploads
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "period", drainPeriod)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := appHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// newArchiveStore builds the configured package archive backend
func newArchiveStore(ctx context.Context, conf cfg.App, L log.Logger) (registry.ArchiveStore, error) {
	if conf.Storage != cfg.StorageS3 {
		return registry.NewDiskStore(conf.PluginsDir()), nil
	}
	// credentials and region come from the default aws config chain
	s, err := registry.NewS3Store(ctx, registry.S3StoreOptions{
		Logger:        L.With("component", "s3store"),
		Bucket:        conf.S3Bucket,
		Prefix:        conf.S3Prefix,
		MaxObjectSize: conf.MaxPackageBytes,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
