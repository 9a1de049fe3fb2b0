// Package httpmw holds the middleware of the public plugin server.
//
// httpserver.NewHandler composes them outermost first: security headers,
// recovery, request ID, client IP, rate limiting, tracing, metrics and
// the request logger. Route groups in pluginhttp add CrossOrigin, MaxBody
// and upload rate limiting.
//
// Query strings, user agents and request bodies are never logged.
package httpmw
