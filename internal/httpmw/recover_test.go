package httpmw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
)

// errCapture hands the error passed to Error to fn.
type errCapture struct{ fn func(error) }

func (c errCapture) With(...any) log.Logger { return c }

func (errCapture) Debug(context.Context, string, ...any) {}

func (errCapture) Info(context.Context, string, ...any) {}

func (errCapture) Warn(context.Context, string, ...any) {}

func (c errCapture) Error(_ context.Context, err error, _ string, _ ...any) { c.fn(err) }

func (errCapture) Sync() error { return nil }

func TestRecover_ServesInternalError(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"string", "resolver exploded"},
		{"error", errors.New("nil map write")},
		{"other", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L, buf := jsonLogger(t)
			panics := 0
			h := Recover(L, func() { panics++ })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic(tt.value)
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plugins/x/index.xhtml", nil))

			if rec.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, want 500", rec.Code)
			}
			if panics != 1 {
				t.Errorf("onPanic called %d times", panics)
			}
			recs := records(t, buf)
			if len(recs) != 1 {
				t.Fatalf("logged %d lines, want 1", len(recs))
			}
			if recs[0]["level"] != "ERROR" || recs[0]["url.path"] != "/plugins/x/index.xhtml" {
				t.Errorf("log = %v", recs[0])
			}
			if recs[0]["stack"] == nil {
				t.Error("panic log has no stack")
			}
		})
	}
}

func TestRecover_ErrorPanicIsUnwrappable(t *testing.T) {
	sentinel := errors.New("sentinel")
	var logged error
	L := errCapture{fn: func(err error) { logged = err }}
	h := Recover(L, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(sentinel) }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !errors.Is(logged, sentinel) {
		t.Errorf("logged %v, want it to wrap the panic value", logged)
	}
}

func TestRecover_AbortHandlerRepanics(t *testing.T) {
	h := Recover(nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", r)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	t.Error("ServeHTTP returned normally")
}

func TestRecover_NoPanicPassesThrough(t *testing.T) {
	h := Recover(nil, func() { t.Error("onPanic called without a panic") })(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/plugins/x", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
}
