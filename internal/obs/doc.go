// Package obs exports proxy usage metrics via OpenTelemetry.
//
// Metrics are disabled unless turned on in the configuration. When enabled,
// a periodic reader pushes token, request, error and latency instruments to
// either a stdout exporter or an OTLP/HTTP endpoint.
package obs
