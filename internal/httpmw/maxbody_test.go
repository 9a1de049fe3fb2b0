package httpmw

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMaxBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		limit   int64
		wantErr bool
	}{
		{"under", "abc", 4, false},
		{"exact", "abcd", 4, false},
		{"over", "abcde", 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				got     []byte
				readErr error
			)
			h := MaxBody(tt.limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, readErr = io.ReadAll(r.Body)
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/plugins", strings.NewReader(tt.body)))

			var tooLarge *http.MaxBytesError
			if tt.wantErr {
				if !errors.As(readErr, &tooLarge) || tooLarge.Limit != tt.limit {
					t.Fatalf("err = %v, want *http.MaxBytesError with limit %d", readErr, tt.limit)
				}
				return
			}
			if readErr != nil || string(got) != tt.body {
				t.Errorf("read %q, %v", got, readErr)
			}
		})
	}
}

func TestMaxBody_NoBody(t *testing.T) {
	var body io.ReadCloser
	h := MaxBody(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body = r.Body
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if body != http.NoBody {
		t.Errorf("body = %T, want http.NoBody untouched", body)
	}
}
