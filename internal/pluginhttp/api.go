// Package pluginhttp exposes the plugin registry over HTTP.
//
// Management routes live under /api/plugins and speak JSON. Installed
// plugin files are served under /plugins/{identity}/ to any origin.
package pluginhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/plugin"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/resolver"
)

// DefaultMaxPackageBytes caps upload bodies when Options leaves it unset.
const DefaultMaxPackageBytes = plugin.MaxPackageSize

// Registry is the subset of registry.Registry the API drives.
type Registry interface {
	Install(ctx context.Context, data []byte) (plugin.Info, error)
	Remove(ctx context.Context, identity string) error
	List(ctx context.Context) ([]plugin.Info, error)
}

// Validator checks a package without installing it.
type Validator interface {
	Validate(ctx context.Context, data []byte) (plugin.Info, error)
}

// Resolver returns servable plugin files.
type Resolver interface {
	Resolve(ctx context.Context, identity, p string) (resolver.File, error)
}

type Options struct {
	Registry  Registry
	Validator Validator
	Resolver  Resolver
	Logger    log.Logger

	// MaxPackageBytes caps install and validate bodies.
	MaxPackageBytes int64

	// MutationMW wraps the install, validate and remove routes (rate limiting).
	MutationMW func(http.Handler) http.Handler
}

// API implements the plugin endpoints
type API struct {
	registry  Registry
	validator Validator
	resolver  Resolver
	logger    log.Logger
	maxBytes  int64
	mutation  func(http.Handler) http.Handler
}

// NewAPI creates a new plugin API handler
func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxPackageBytes <= 0 {
		opts.MaxPackageBytes = DefaultMaxPackageBytes
	}
	return &API{
		registry:  opts.Registry,
		validator: opts.Validator,
		resolver:  opts.Resolver,
		logger:    opts.Logger,
		maxBytes:  opts.MaxPackageBytes,
		mutation:  opts.MutationMW,
	}
}

// RegisterRoutes attaches plugin endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/plugins", api.HandleList)

	r.Group(func(r chi.Router) {
		if api.mutation != nil {
			r.Use(api.mutation)
		}
		r.Use(httpmw.MaxBody(api.maxBytes))
		r.Post("/api/plugins", api.HandleInstall)
		r.Post("/api/plugins/validate", api.HandleValidate)
		r.Delete("/api/plugins/{identity}", api.HandleRemove)
	})

	r.Group(func(r chi.Router) {
		r.Use(httpmw.CrossOrigin(10*time.Minute, http.MethodGet, http.MethodHead))
		r.Get("/plugins/{identity}/*", api.HandleFile)
		r.Head("/plugins/{identity}/*", api.HandleFile)
		// answered by CrossOrigin
		r.Options("/plugins/{identity}/*", func(http.ResponseWriter, *http.Request) {})
	})
}

// ListResponse is the body of GET /api/plugins
type ListResponse struct {
	Plugins []plugin.Info `json:"plugins"`
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error      string      `json:"error"`
	Kind       plugin.Kind `json:"kind"`
	Violations []string    `json:"violations,omitempty"`
}

// HandleList serves the installed plugins
func (api *API) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	infos, err := api.registry.List(ctx)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	if infos == nil {
		infos = []plugin.Info{}
	}
	api.writeJSON(ctx, w, http.StatusOK, ListResponse{Plugins: infos})
}

// HandleInstall validates and installs the uploaded package
func (api *API) HandleInstall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, ok := api.readPackage(w, r)
	if !ok {
		return
	}
	info, err := api.registry.Install(ctx, data)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusCreated, info)
}

// HandleValidate reports whether the uploaded package would install
func (api *API) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, ok := api.readPackage(w, r)
	if !ok {
		return
	}
	info, err := api.validator.Validate(ctx, data)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, info)
}

// HandleRemove uninstalls a plugin by id, name-version or name
func (api *API) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, err := urlParam(r, "identity")
	if err != nil {
		api.writeError(ctx, w, plugin.NotFound("Plugin not found", err))
		return
	}
	if err := api.registry.Remove(ctx, identity); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleFile serves one declared file of an installed plugin
func (api *API) HandleFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")

	identity, err1 := urlParam(r, "identity")
	p, err2 := urlParam(r, "*")
	if err1 != nil || err2 != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	f, err := api.resolver.Resolve(ctx, identity, p)
	if err != nil {
		kind := plugin.KindOf(err)
		msg := "Internal error"
		var pe *plugin.Error
		if kind != plugin.KindInternal && errors.As(err, &pe) && pe.Reason != "" {
			msg = pe.Reason
		}
		http.Error(w, msg, kind.Status())
		return
	}

	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(f.Data); err != nil {
		api.logger.Warn(ctx, "failed to write plugin file", "error", err)
	}
}

// readPackage reads the request body, writing a 413 when it exceeds the
// MaxBody limit.
func (api *API) readPackage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(r.Body)
	if err == nil {
		return data, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		api.writeJSON(r.Context(), w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: "package exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			Kind:  plugin.KindCorruptArchive,
		})
		return nil, false
	}
	api.writeJSON(r.Context(), w, http.StatusBadRequest, ErrorResponse{
		Error: "failed to read request body",
		Kind:  plugin.KindCorruptArchive,
	})
	return nil, false
}

// urlParam returns the decoded route parameter. chi matches against
// RawPath when the request carried escapes that Path cannot represent.
func urlParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := plugin.KindOf(err)
	resp := ErrorResponse{Error: err.Error(), Kind: kind}
	var pe *plugin.Error
	if errors.As(err, &pe) {
		resp.Error = pe.Reason
		if resp.Error == "" {
			resp.Error = string(pe.Kind)
		}
		resp.Violations = pe.Violations
	}
	if kind == plugin.KindInternal {
		api.logger.Error(ctx, err, "plugin api request failed")
		resp.Error = "internal error"
	}
	api.writeJSON(ctx, w, kind.Status(), resp)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
