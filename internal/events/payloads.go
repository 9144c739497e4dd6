// Package events holds the change-feed payloads shared between store
// backends and their subscribers.
package events

import (
	"time"
)

// SessionChanged is published whenever a session document is written or
// deleted.
type SessionChanged struct {
	Code    string    `json:"code"`
	Deleted bool      `json:"deleted,omitempty"`
	At      time.Time `json:"at"`
}

// CollectionChanged is published whenever any document in a session
// sub-collection is written or deleted. Subscribers re-read the
// collection; the payload intentionally carries no row data so delivery
// order cannot make snapshots regress.
type CollectionChanged struct {
	Code       string    `json:"code"`
	Collection string    `json:"collection"`
	At         time.Time `json:"at"`
}
