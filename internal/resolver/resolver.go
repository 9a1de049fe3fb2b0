// Package resolver serves files from installed plugin packages.
//
// Every request re-opens the stored archive and re-parses its manifest, so
// the set of servable paths always comes from the archive itself. Only the
// entry document and declared assets are ever returned. Asset bytes are
// re-sniffed against their declared type on every read.
package resolver

import (
	"context"
	"errors"
	"io/fs"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/plugin"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/schema"
)

var tracer = otel.Tracer("linnemanlabs/resolver")

// Locator maps an installed plugin identity to its storage key.
type Locator interface {
	Locate(ctx context.Context, identity string) (string, error)
}

// Archives loads stored package bytes by storage key.
type Archives interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Metrics observes resolve outcomes: "ok" or a failure kind.
type Metrics interface {
	IncPluginResolve(outcome string)
}

type Options struct {
	Locator  Locator
	Archives Archives

	// Types must match the table packages were validated with. Defaults
	// to plugin.DefaultTypes.
	Types *plugin.TypeTable

	Logger  log.Logger
	Metrics Metrics
}

// File is a resolved plugin file.
type File struct {
	Data        []byte
	ContentType string
	// Entry is true when the file is the package's entry document.
	Entry bool
}

type Resolver struct {
	locator  Locator
	archives Archives
	types    *plugin.TypeTable
	logger   log.Logger
	metrics  Metrics
}

// New returns a Resolver. Locator and Archives are required.
func New(opts Options) (*Resolver, error) {
	if opts.Locator == nil || opts.Archives == nil {
		return nil, errors.New("resolver: Locator and Archives are required")
	}
	if opts.Types == nil {
		opts.Types = plugin.DefaultTypes()
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Resolver{
		locator:  opts.Locator,
		archives: opts.Archives,
		types:    opts.Types,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}, nil
}

// Resolve returns file p of the plugin identified by identity. Errors are
// *plugin.Error of kind NotFound, Forbidden or Internal; the detailed cause
// is wrapped for logging and never part of the message.
func (r *Resolver) Resolve(ctx context.Context, identity, p string) (File, error) {
	ctx, span := tracer.Start(ctx, "resolver.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("plugin.identity", identity),
		attribute.String("plugin.path", p),
	)

	f, err := r.resolve(ctx, identity, p)
	outcome := "ok"
	if err != nil {
		outcome = string(plugin.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		if plugin.KindOf(err) == plugin.KindInternal {
			r.logger.Error(ctx, err, "plugin file resolve failed",
				"plugin", identity,
				"path", p,
			)
		}
	}
	if r.metrics != nil {
		r.metrics.IncPluginResolve(outcome)
	}
	return f, err
}

func (r *Resolver) resolve(ctx context.Context, identity, p string) (File, error) {
	if identity == "" || p == "" {
		return File{}, plugin.NotFound("Plugin not found", nil)
	}
	// checked before any storage access
	if !pathutil.IsSafeRelative(p) {
		return File{}, plugin.Forbidden("Forbidden", nil)
	}

	key, err := r.locator.Locate(ctx, identity)
	if err != nil {
		if plugin.KindOf(err) == plugin.KindNotFound {
			return File{}, plugin.NotFound("Plugin not found", err)
		}
		return File{}, plugin.Internal("Internal error", err)
	}
	data, err := r.archives.Get(ctx, key)
	if errors.Is(err, fs.ErrNotExist) {
		return File{}, plugin.NotFound("Plugin not found", err)
	}
	if err != nil {
		return File{}, plugin.Internal("Internal error", err)
	}

	a, err := plugin.OpenArchive(data)
	if err != nil {
		return File{}, plugin.Internal("Internal error", err)
	}
	m, err := plugin.ReadManifest(a, r.types)
	if err != nil {
		return File{}, plugin.Internal("Internal error", err)
	}

	asset, isEntry, ok := m.Declared(p)
	if !ok {
		return File{}, plugin.Forbidden("Forbidden", nil)
	}

	body, err := a.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return File{}, plugin.NotFound("File not found in plugin", err)
	}
	if err != nil {
		return File{}, plugin.Internal("Internal error", err)
	}

	if isEntry {
		if err := schema.WellFormed(body); err != nil {
			return File{}, plugin.Internal("Internal error", err)
		}
		return File{Data: body, ContentType: plugin.EntryContentType, Entry: true}, nil
	}

	if err := plugin.CheckAssetType(r.types, asset, body); err != nil {
		return File{}, plugin.Internal("Internal error", err)
	}
	at, _ := r.types.Lookup(asset.Type)
	return File{Data: body, ContentType: at.ContentType}, nil
}
