// Package history persists training runs and their logged metrics in a
// SQLite database so past runs can be listed and compared after the
// process exits.
package history
