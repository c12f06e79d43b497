// Package observe provides api.Observer implementations backed by
// Prometheus and OpenTelemetry. Combine them with the logging observer
// through api.NewCompositeObserver.
package observe
