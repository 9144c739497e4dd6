// Package store defines the document-store capability the session core is
// written against: point reads, field-merging writes, deletes,
// sub-collection access, and push subscriptions with per-document ordered
// delivery. No cross-document transactions are assumed.
package store

import (
	"context"
	"errors"
)

// Sub-collection names under a session document.
const (
	CollParticipants = "participants"
	CollActivity     = "activity"
	CollMessages     = "messages"
)

// ErrNotFound is returned by point reads of missing documents.
var ErrNotFound = errors.New("store: document not found")

// Doc is a schemaless document. Values are JSON-compatible: timestamps may
// surface as time.Time, strings, numeric epochs or wrapper objects
// depending on the backend, which is why consumers go through
// timeutil.Canonicalize.
type Doc = map[string]any

// Subscription is a handle to an active watch. Unsubscribe is idempotent
// and safe to call from inside the watch callback.
type Subscription interface {
	Unsubscribe()
}

// Store is the remote session store capability. A single writer observes
// its own writes to one document delivered in order; there is no ordering
// guarantee across clients or across concurrent writers. Merges are
// last-write-wins with field-level overwrite.
//
// Watch callbacks may run on the writing client's goroutine; keep them
// short and do not block.
type Store interface {
	// GetSession returns the session document for code, or ErrNotFound.
	GetSession(ctx context.Context, code string) (Doc, error)
	// SetSession writes the full session document, replacing any existing one.
	SetSession(ctx context.Context, code string, doc Doc) error
	// MergeSession overwrites only the given top-level fields.
	MergeSession(ctx context.Context, code string, fields Doc) error
	// DeleteSession removes the session document. Sub-collections are the
	// caller's responsibility (no cascade in the store).
	DeleteSession(ctx context.Context, code string) error
	// ListSessionCodes returns the codes of every live session.
	ListSessionCodes(ctx context.Context) ([]string, error)

	// PutChild writes a full document into a session sub-collection.
	PutChild(ctx context.Context, code, coll, id string, doc Doc) error
	// MergeChild overwrites only the given fields of a child document,
	// creating it if absent.
	MergeChild(ctx context.Context, code, coll, id string, fields Doc) error
	// DeleteChild removes one child document.
	DeleteChild(ctx context.Context, code, coll, id string) error
	// ListChildren returns a fresh, uncached read of a sub-collection. Every
	// returned document carries its store key under "id", even when the
	// stored fields do not include one (a merge can create a partial row).
	ListChildren(ctx context.Context, code, coll string) ([]Doc, error)

	// WatchSession pushes session document snapshots. ok is false when the
	// document does not exist (or was deleted). The current snapshot is
	// delivered immediately on subscribe.
	WatchSession(ctx context.Context, code string, fn func(doc Doc, ok bool)) (Subscription, error)
	// WatchChildren pushes full sub-collection snapshots, starting with the
	// current one. Snapshot documents carry their store key under "id", as
	// in ListChildren.
	WatchChildren(ctx context.Context, code, coll string, fn func(docs []Doc)) (Subscription, error)
}
