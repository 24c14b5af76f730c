// Package logging builds the slog loggers used by ctctrain: a compact
// console format for terminals, JSON for machines, and an optional
// append-only file inside the run's output directory.
package logging
