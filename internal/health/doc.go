// Package health holds the liveness and readiness probes served on the
// public and ops ports.
//
// Readiness in the server is All(gate, registry): the shutdown gate fails
// first on SIGTERM so load balancers stop routing before the drain, and
// the registry probe fails while the registry document is unreadable.
package health
