// Package emergency provides the business boundary for the alert lifecycle:
// panic activation with contact fan-out, resolve/false-alarm transitions,
// alert queries, and the live-update events around them. It defines the
// Service (validation, orchestration, best-effort dispatch) and the
// Prometheus metrics for the subsystem.
package emergency
