// Package telemetry wraps OpenTelemetry SDK initialization, giving
// hearthctl a single TracerProvider/MeterProvider setup. When telemetry
// is disabled, it falls back to noop implementations and never dials
// out to a collector.
package telemetry
