// Package ids generates the identifiers used for requests, sessions and
// storage keys.
package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable unique identifier. ULIDs sort by
// creation time, which keeps task listings and audit trails naturally ordered.
func New() string {
	return ulid.Make().String()
}
