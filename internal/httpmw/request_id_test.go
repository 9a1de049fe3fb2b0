package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
)

func serveRequestID(t *testing.T, inbound string) (ctxID, respID string) {
	t.Helper()
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		req.Header.Set(RequestIDHeader, inbound)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get(RequestIDHeader)
}

func TestRequestID_Generated(t *testing.T) {
	ctxID, respID := serveRequestID(t, "")
	if ctxID == "" || ctxID != respID {
		t.Fatalf("context id %q, response id %q", ctxID, respID)
	}
	if _, err := ulid.ParseStrict(ctxID); err != nil {
		t.Errorf("generated id %q is not a ULID: %v", ctxID, err)
	}

	other, _ := serveRequestID(t, "")
	if other == ctxID {
		t.Error("two requests got the same id")
	}
}

func TestRequestID_InboundKeptWhenWellFormed(t *testing.T) {
	for _, id := range []string{"abc-123", "01J9ZK7W3F0000000000000000", "svc.edge:7f_2"} {
		ctxID, respID := serveRequestID(t, id)
		if ctxID != id || respID != id {
			t.Errorf("inbound %q: context %q, response %q", id, ctxID, respID)
		}
	}
}

func TestRequestID_InboundReplacedWhenMalformed(t *testing.T) {
	for _, id := range []string{
		"has space",
		"line\nbreak",
		`quote"d`,
		strings.Repeat("a", maxRequestIDLen+1),
	} {
		ctxID, respID := serveRequestID(t, id)
		if ctxID == id {
			t.Errorf("malformed inbound %q was kept", id)
		}
		if ctxID == "" || ctxID != respID {
			t.Errorf("inbound %q: context %q, response %q", id, ctxID, respID)
		}
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	if RequestIDFromContext(ctx) != "" {
		t.Error("empty context has an id")
	}
	if WithRequestID(ctx, "") != ctx {
		t.Error("WithRequestID with empty id changed the context")
	}
	if got := RequestIDFromContext(WithRequestID(ctx, "r1")); got != "r1" {
		t.Errorf("round trip = %q", got)
	}
}
