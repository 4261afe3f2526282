// Package datasource provides the browsable hierarchies treeline can
// display: a filesystem walker and a read-only SQLite adjacency table.
// Both expose their rows as Entry values and implement the children
// provider consumed by the async tree.
package datasource

import "time"

// Entry is one row of a hierarchy. ID is the stable identity of the row
// within its root (the absolute path for filesystem entries, the primary
// key for database rows) and never changes across refreshes.
type Entry struct {
	ID       string
	Name     string
	IsBranch bool
	Size     int64
	ModTime  time.Time
}

// IdentityOf returns the registry key for an entry.
func IdentityOf(e Entry) string { return e.ID }
