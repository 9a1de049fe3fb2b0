package httpmw

import "net/http"

// Security note: CSRF protection is not implemented because it is not applicable.
// The API is stateless (no cookies, no sessions, no authentication).

// contentSecurityPolicy allows no scripts anywhere. Plugin entry documents
// may reference their own images, styles and fonts only.
const contentSecurityPolicy = "default-src 'none'; script-src 'none'; style-src 'self'; img-src 'self'; font-src 'self'; base-uri 'none'; form-action 'none'; frame-ancestors 'none'; object-src 'none'"

// SecurityHeaders is middleware that adds common security headers to HTTP responses.
// Routes that must be readable cross-origin override the resource policy with CrossOrigin.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Require HTTPS for one year, including subdomains
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		w.Header().Set("Content-Security-Policy", contentSecurityPolicy)

		// Disable MIME type sniffing, declared content types are authoritative
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Old Clickjacking protection - dont allow embedding in frames
		w.Header().Set("X-Frame-Options", "DENY")

		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Permissions policy to disable various powerful (in)security features
		w.Header().Set("Permissions-Policy", "accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(), usb=()")

		// Prevent Adobe Flash and Acrobat from loading content
		w.Header().Set("X-Permitted-Cross-Domain-Policies", "none")

		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		// same-origin unless a route opts in to cross-origin reads
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")

		next.ServeHTTP(w, r)
	})
}
