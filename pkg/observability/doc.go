// Package observability provides structured logging, Prometheus metrics,
// and health checking for the Unuxt backend.
//
// The Logger wraps logrus with a JSON formatter and field chaining.
// Metrics registers domain counters (auth attempts, invitation transitions,
// membership changes) on a private registry exposed on the health port.
// HealthChecker backs the /healthz and /readyz probes.
package observability
