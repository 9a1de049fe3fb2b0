// Package prof pushes continuous profiles to a Pyroscope server.
package prof

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	// TenantID is sent as X-Scope-OrgID.
	TenantID string
	Tags     map[string]string

	// UploadRate defaults to the client's 15s.
	UploadRate time.Duration

	// MutexProfileFraction and BlockProfileRate are applied to the runtime
	// and add the matching profile types when positive.
	MutexProfileFraction int
	BlockProfileRate     int

	Logger log.Logger
}

// Stop ends profiling. It is safe to call more than once.
type Stop func()

func noop() {}

var baseProfiles = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

func profileTypes(o Options) []pyroscope.ProfileType {
	out := make([]pyroscope.ProfileType, 0, len(baseProfiles)+4)
	out = append(out, baseProfiles...)
	if o.MutexProfileFraction > 0 {
		out = append(out, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	if o.BlockProfileRate > 0 {
		out = append(out, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	}
	return out
}

func checkAddress(addr string) error {
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return xerrors.Newf("pyroscope server address %q is not an http(s) URL", addr)
	}
	return nil
}

// Start begins profiling when o.Enabled. The returned Stop is never nil,
// even on error.
func Start(ctx context.Context, o Options) (Stop, error) {
	L := o.Logger
	if L == nil {
		L = log.FromContext(ctx)
	}
	L = L.With("component", "pyroscope")

	if !o.Enabled {
		L.Debug(ctx, "profiling disabled")
		return noop, nil
	}
	if err := checkAddress(o.ServerAddress); err != nil {
		return noop, err
	}

	if o.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(o.MutexProfileFraction)
	}
	if o.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(o.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: o.AppName,
		ServerAddress:   o.ServerAddress,
		TenantID:        o.TenantID,
		Tags:            o.Tags,
		UploadRate:      o.UploadRate,
		Logger:          clientLogger{ctx: context.WithoutCancel(ctx), L: L},
		ProfileTypes:    profileTypes(o),
	})
	if err != nil {
		return noop, xerrors.Wrapf(err, "starting profiler for %s", o.ServerAddress)
	}
	L.Info(ctx, "profiling started", "server_address", o.ServerAddress, "app_name", o.AppName)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := profiler.Stop(); err != nil {
				L.Warn(context.Background(), "profiler stop failed", "error", err)
				return
			}
			L.Info(context.Background(), "profiling stopped")
		})
	}, nil
}

// clientLogger adapts log.Logger to the pyroscope client; its debug
// output is dropped.
type clientLogger struct {
	ctx context.Context
	L   log.Logger
}

func (c clientLogger) Infof(format string, args ...any) {
	c.L.Info(c.ctx, fmt.Sprintf(format, args...))
}

func (c clientLogger) Debugf(string, ...any) {}

func (c clientLogger) Errorf(format string, args ...any) {
	c.L.Error(c.ctx, xerrors.Newf(format, args...), "profiler client error")
}
