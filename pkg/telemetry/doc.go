// Package telemetry wires OpenTelemetry tracing and delivery metrics for the
// relay.
//
// It centralises trace provider setup, records per-destination delivery
// counters and latencies, and offers span helpers that annotate dispatches
// with filter decisions and outcomes. Destination URLs carry bot tokens, so
// they only ever reach spans and logs through URLPreview.
package telemetry
