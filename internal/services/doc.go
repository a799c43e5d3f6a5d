// Package services holds shared plumbing for external collaborators: sentinel
// error markers that drive the worker's retry decision, and context annotation
// helpers used for structured logging correlation.
package services
