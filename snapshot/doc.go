// Package snapshot turns the registry's final state into a run report:
// the resting orders of every book, the operations each book skipped and
// how the shutdown went. Reports render as the two-column text table and
// serialize to JSON for files and the outbox.
package snapshot
