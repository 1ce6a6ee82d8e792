// Package telemetry initializes the OpenTelemetry SDK for traces and
// metrics. When telemetry is disabled the global providers stay noop and
// no exporter connections are made.
package telemetry
