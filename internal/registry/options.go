package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/plugin"
)

// ErrInvalidOptions is returned by New when Options are incomplete.
var ErrInvalidOptions = errors.New("invalid registry options")

// Validator checks a package before it is stored.
type Validator interface {
	Validate(ctx context.Context, data []byte) (plugin.Info, error)
}

// Metrics is implemented by the metrics package to observe registry
// operations. result is "ok" or the failure kind.
type Metrics interface {
	IncPluginInstall(result string)
	IncPluginRemoval(result string)
	IncPluginValidationFailure(kind string)
	SetPluginsInstalled(n int)
}

// Options configures a Registry. DocumentPath and Store are required.
type Options struct {
	// DocumentPath is the JSON document holding the "plugins" member.
	// Other members of the document are preserved as-is.
	DocumentPath string

	// Store holds the package archives.
	Store ArchiveStore

	// Validator defaults to plugin.NewValidator().
	Validator Validator

	Logger  log.Logger
	Metrics Metrics

	// Now stamps installed_at. Defaults to time.Now.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.Validator == nil {
		o.Validator = plugin.NewValidator()
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o *Options) validate() error {
	var errs []error
	if o.DocumentPath == "" {
		errs = append(errs, fmt.Errorf("%w: DocumentPath is required", ErrInvalidOptions))
	}
	if o.Store == nil {
		errs = append(errs, fmt.Errorf("%w: Store is required", ErrInvalidOptions))
	}
	return errors.Join(errs...)
}

type nopMetrics struct{}

func (nopMetrics) IncPluginInstall(string)           {}
func (nopMetrics) IncPluginRemoval(string)           {}
func (nopMetrics) IncPluginValidationFailure(string) {}
func (nopMetrics) SetPluginsInstalled(int)           {}
