package httpmw

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CrossOrigin marks responses as readable from any origin and answers
// CORS preflight requests with 204. methods lists what preflight
// advertises; OPTIONS is always included.
func CrossOrigin(maxAge time.Duration, methods ...string) func(http.Handler) http.Handler {
	allow := strings.Join(append(append([]string(nil), methods...), http.MethodOptions), ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Cross-Origin-Resource-Policy", "cross-origin")

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", allow)
				if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
					h.Set("Access-Control-Allow-Headers", req)
				}
				if maxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(int(maxAge.Seconds())))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
