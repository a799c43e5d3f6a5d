// Package gates implements per-stage feature gates: durable on/off flags with
// a short-lived in-memory cache consulted before any stage is scheduled or
// executed. Backends: SQLite (default) and Redis for multi-host deployments.
package gates
