package httpmw

import (
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
)

// statusRecorder captures what the handler sent.
type statusRecorder struct {
	http.ResponseWriter
	start  time.Time
	span   trace.Span
	status int
	bytes  int64
	ttfb   time.Duration
}

func (rec *statusRecorder) firstByte() {
	if rec.ttfb != 0 {
		return
	}
	rec.ttfb = time.Since(rec.start)
	if rec.span != nil && rec.span.IsRecording() {
		rec.span.SetAttributes(attribute.Float64("http.server.ttfb_seconds", rec.ttfb.Seconds()))
	}
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.firstByte()
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.firstByte()
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rec *statusRecorder) Unwrap() http.ResponseWriter { return rec.ResponseWriter }

// WithLogger stores a request-scoped logger in the context, annotated with
// the request ID and resolved client address set by the outer middleware.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			peer := r.RemoteAddr
			if host, _, err := net.SplitHostPort(peer); err == nil {
				peer = host
			}
			client := ClientIPFromContext(ctx)
			if client == "" {
				client = peer
			}
			reqID := RequestIDFromContext(ctx)
			scheme := requestScheme(r)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("client.address", client),
					attribute.String("network.peer.address", peer),
					attribute.String("url.scheme", scheme),
				)
			}

			L := base.With(
				"request_id", reqID,
				"client.address", client,
				"network.peer.address", peer,
				"server.address", r.Host,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// AccessLog writes one line per request through the context logger.
// Health probes and successful plugin asset reads are skipped; refused
// asset reads are kept since they are how traversal probing shows up.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{
				ResponseWriter: w,
				start:          time.Now(),
				span:           trace.SpanFromContext(r.Context()),
			}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			if quietRequest(r.URL.Path, status) {
				return
			}

			kv := []any{
				"http.response.status_code", status,
				"http.route", routePattern(r),
				"http.server.request.duration", time.Since(rec.start).Seconds(),
				"http.response.body.size", rec.bytes,
			}
			if r.ContentLength > 0 {
				kv = append(kv, "http.request.body.size", r.ContentLength)
			}

			ctx := r.Context()
			L := log.FromContext(ctx)
			if status >= http.StatusInternalServerError {
				L.Warn(ctx, "http request", kv...)
				return
			}
			L.Info(ctx, "http request", kv...)
		})
	}
}

func quietRequest(p string, status int) bool {
	if p == "/-/healthy" || p == "/-/ready" {
		return true
	}
	if status >= http.StatusBadRequest || !strings.HasPrefix(p, "/plugins/") {
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".css", ".woff", ".woff2", ".json", ".txt":
		return true
	}
	return false
}

// requestScheme trusts X-Forwarded-Proto only because ClientIPWithOptions
// strips it from requests that did not come through a trusted proxy.
func requestScheme(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		switch s := strings.ToLower(strings.TrimSpace(first)); s {
		case "http", "https":
			return s
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
