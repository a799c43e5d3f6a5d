// Command currents is the pipeline binary. "currents daemon" runs the
// worker pool, auto-trigger scheduler, and stale-claim reclaimer; the
// remaining subcommands trigger stages, inspect the queue, toggle feature
// gates, and manage configuration.
package main
