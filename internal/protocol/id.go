package protocol

import "github.com/google/uuid"

// NewID returns a fresh envelope identifier. Version 7 UUIDs embed a
// millisecond timestamp followed by random bits, so concurrent clients do not
// collide and IDs sort by creation time in logs and the journal.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
