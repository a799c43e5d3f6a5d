// Package queue persists pipeline tasks in SQLite and implements the claim
// protocol workers rely on: idempotent enqueue keyed by dedupe strings,
// single-statement atomic claims, terminal status transitions, and
// retry-as-new-task bookkeeping. Task rows are the pipeline's audit trail and
// are never deleted outside explicit operator commands.
package queue
