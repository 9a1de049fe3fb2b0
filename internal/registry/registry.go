package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/plugin"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/xerrors"
)

var tracer = otel.Tracer("linnemanlabs/registry")

const resultOK = "ok"

// Registry records installed plugins in a JSON document and keeps their
// archives in an ArchiveStore.
type Registry struct {
	opts Options

	// mu serializes every read-modify-write of the document
	mu sync.Mutex
}

// New returns a Registry. It does not touch the document or the store.
func New(opts Options) (*Registry, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Registry{opts: opts}, nil
}

// Install validates data, stores the archive under its (name, version)
// key and records it, replacing any record for the same pair.
func (r *Registry) Install(ctx context.Context, data []byte) (plugin.Info, error) {
	ctx, span := tracer.Start(ctx, "registry.Install")
	defer span.End()

	info, err := r.opts.Validator.Validate(ctx, data)
	if err != nil {
		kind := string(plugin.KindOf(err))
		r.opts.Metrics.IncPluginValidationFailure(kind)
		r.opts.Metrics.IncPluginInstall(kind)
		span.SetStatus(codes.Error, kind)
		return plugin.Info{}, err
	}
	span.SetAttributes(
		attribute.String("plugin.id", info.ID),
		attribute.String("plugin.name", info.Name),
		attribute.String("plugin.version", info.Version),
	)

	r.mu.Lock()
	defer r.mu.Unlock()

	// load before writing anything so a corrupt document leaves storage untouched
	doc, err := loadDocument(r.opts.DocumentPath)
	if err != nil {
		return plugin.Info{}, r.installFailed(ctx, span, err)
	}

	key := info.StorageKey()
	sum := cryptoutil.SHA256Hex(data)
	if err := r.opts.Store.Put(ctx, key, data); err != nil {
		return plugin.Info{}, r.installFailed(ctx, span, plugin.Internal("failed to store plugin archive", err))
	}

	kept := doc.Plugins[:0]
	replaced := 0
	unchanged := false
	var stale []string
	for _, rec := range doc.Plugins {
		if rec.Name == info.Name && rec.Version == info.Version {
			replaced++
			unchanged = unchanged || (rec.SHA256 != "" && cryptoutil.HashEqual(rec.SHA256, sum))
			if rec.Archive != "" && rec.Archive != key {
				stale = append(stale, rec.Archive)
			}
			continue
		}
		kept = append(kept, rec)
	}
	doc.Plugins = append(kept, Record{
		Info:        info,
		Archive:     key,
		SHA256:      sum,
		InstalledAt: r.opts.Now().UTC(),
	})

	if err := saveDocument(r.opts.DocumentPath, doc); err != nil {
		return plugin.Info{}, r.installFailed(ctx, span, plugin.Internal("failed to write registry document", err))
	}

	// replaced records stored under another key are no longer referenced
	for _, old := range stale {
		if err := r.opts.Store.Delete(ctx, old); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.opts.Logger.Warn(ctx, "failed to delete replaced plugin archive",
				"archive", old,
				"error", err,
			)
		}
	}

	r.opts.Metrics.IncPluginInstall(resultOK)
	r.opts.Metrics.SetPluginsInstalled(len(doc.Plugins))
	r.opts.Logger.Info(ctx, "plugin installed",
		"plugin_id", info.ID,
		"name", info.Name,
		"version", info.Version,
		"archive", key,
		"sha256", sum,
		"replaced", replaced,
		"stale_archives", len(stale),
		"unchanged_archive", unchanged,
	)
	return info, nil
}

func (r *Registry) installFailed(ctx context.Context, span trace.Span, err error) error {
	kind := string(plugin.KindOf(err))
	r.opts.Metrics.IncPluginInstall(kind)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	r.opts.Logger.Error(ctx, xerrors.EnsureTrace(err), "plugin install failed", "kind", kind)
	return err
}

// Remove deletes the record matching identity and its archive. identity
// is a plugin ID or, as a convenience, "name" or "name-version". A
// convenience form matching more than one record is Ambiguous.
func (r *Registry) Remove(ctx context.Context, identity string) error {
	ctx, span := tracer.Start(ctx, "registry.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("plugin.identity", identity))

	err := r.remove(ctx, identity)
	if err != nil {
		kind := string(plugin.KindOf(err))
		r.opts.Metrics.IncPluginRemoval(kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		return err
	}
	r.opts.Metrics.IncPluginRemoval(resultOK)
	return nil
}

func (r *Registry) remove(ctx context.Context, identity string) error {
	if strings.TrimSpace(identity) == "" {
		return plugin.NotFound("Plugin not found", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := loadDocument(r.opts.DocumentPath)
	if err != nil {
		return err
	}

	matches := matchRecords(doc.Plugins, identity)
	switch {
	case len(matches) == 0:
		return plugin.NotFound(fmt.Sprintf("Plugin %q not found", identity), nil)
	case len(matches) > 1:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = doc.Plugins[m].ID
		}
		return &plugin.Error{
			Kind:   plugin.KindAmbiguous,
			Reason: fmt.Sprintf("Plugin %q matches %d installed plugins (%s); use the plugin id", identity, len(matches), strings.Join(ids, ", ")),
		}
	}

	rec := doc.Plugins[matches[0]]
	doc.Plugins = append(doc.Plugins[:matches[0]], doc.Plugins[matches[0]+1:]...)
	if err := saveDocument(r.opts.DocumentPath, doc); err != nil {
		return plugin.Internal("failed to write registry document", err)
	}

	key := rec.Archive
	if key == "" {
		key = rec.StorageKey()
	}
	if err := r.opts.Store.Delete(ctx, key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// the record is already gone; a leftover archive is unreachable
		r.opts.Logger.Warn(ctx, "failed to delete plugin archive",
			"archive", key,
			"error", err,
		)
	}

	r.opts.Metrics.SetPluginsInstalled(len(doc.Plugins))
	r.opts.Logger.Info(ctx, "plugin removed",
		"plugin_id", rec.ID,
		"name", rec.Name,
		"version", rec.Version,
		"archive", key,
	)
	return nil
}

// matchRecords returns the indexes of records identity refers to. An exact
// ID match wins. Otherwise identity is read as "name-version" when the text
// after the last '-' contains a '.', or as a bare name.
func matchRecords(records []Record, identity string) []int {
	var out []int
	for i, rec := range records {
		if rec.ID == identity {
			out = append(out, i)
		}
	}
	if len(out) > 0 {
		return out
	}

	name, version := identity, ""
	if i := strings.LastIndex(identity, "-"); i > 0 && strings.Contains(identity[i+1:], ".") {
		name, version = identity[:i], identity[i+1:]
	}
	for i, rec := range records {
		if rec.Name == name && (version == "" || rec.Version == version) {
			out = append(out, i)
		}
	}
	return out
}

// List returns every installed plugin in install order. A missing or
// empty document yields an empty list.
func (r *Registry) List(ctx context.Context) ([]plugin.Info, error) {
	recs, err := r.Records(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]plugin.Info, len(recs))
	for i, rec := range recs {
		out[i] = rec.Info
	}
	return out, nil
}

// Records is List with the storage bookkeeping attached.
func (r *Registry) Records(ctx context.Context) ([]Record, error) {
	doc, err := loadDocument(r.opts.DocumentPath)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(doc.Plugins))
	for i, rec := range doc.Plugins {
		if rec.Assets == nil {
			rec.Assets = []plugin.Asset{}
		}
		out[i] = rec
	}
	return out, nil
}

// Locate maps a plugin ID or an exact "name-version" to its storage key.
func (r *Registry) Locate(ctx context.Context, identity string) (string, error) {
	doc, err := loadDocument(r.opts.DocumentPath)
	if err != nil {
		return "", err
	}
	for _, rec := range doc.Plugins {
		if rec.ID == identity || rec.Name+"-"+rec.Version == identity {
			if rec.Archive != "" {
				return rec.Archive, nil
			}
			return rec.StorageKey(), nil
		}
	}
	return "", plugin.NotFound("Plugin not found", nil)
}

// Check reports whether the registry document can be loaded. It backs the
// readiness probe.
func (r *Registry) Check(ctx context.Context) error {
	doc, err := loadDocument(r.opts.DocumentPath)
	if err != nil {
		return err
	}
	r.opts.Metrics.SetPluginsInstalled(len(doc.Plugins))
	return nil
}
