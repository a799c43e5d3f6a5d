// Package content persists content items and the artifacts the pipeline
// derives from them: per-stage progress, event clusters and their members,
// discovered topics, extracted action items, and generated reports.
//
// The store lives in its own SQLite database, separate from the task queue,
// so queue churn never contends with content reads. Stage handlers are the
// only writers of derived fields; ingestion only touches the raw item
// columns and preserves derived data on refresh.
package content
