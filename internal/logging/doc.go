// Package logging builds the slog loggers used across Currents.
//
// It provides console and JSON handlers selected by configuration, attribute
// helpers with standardized field names (task_id, stage, worker_id), and
// context-aware enrichment so every record emitted inside a claimed task
// carries its correlation fields.
package logging
