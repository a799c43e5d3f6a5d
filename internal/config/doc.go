// Package config loads, normalizes, and validates Currents configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CURRENTS_AI_API_KEY. The Config type centralizes every knob the daemon and
// CLI need, from worker polling cadence to clustering thresholds.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
