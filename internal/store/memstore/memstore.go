// Package memstore is the in-process store backend. It is authoritative
// for tests and single-process deployments and mirrors the push semantics
// of the remote backends: watch callbacks fire with a fresh snapshot after
// every write. A single writer observes its own writes in order; snapshots
// from concurrent writers to the same document may interleave.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/internal/store"
)

// Memstore implements store.Store with maps under one lock. Watch
// callbacks run synchronously on the writer's goroutine, after the lock is
// released, so callbacks may issue further store calls.
type Memstore struct {
	mu       sync.RWMutex
	sessions map[string]store.Doc
	children map[string]map[string]map[string]store.Doc // code → coll → id → doc

	watchers map[string]map[*subscription]struct{} // watch key → subs
}

// New returns an empty in-memory store.
func New() *Memstore {
	return &Memstore{
		sessions: make(map[string]store.Doc),
		children: make(map[string]map[string]map[string]store.Doc),
		watchers: make(map[string]map[*subscription]struct{}),
	}
}

type subscription struct {
	m      *Memstore
	key    string
	onDoc  func(doc store.Doc, ok bool)
	onColl func(docs []store.Doc)
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.m.mu.Lock()
		defer s.m.mu.Unlock()
		if subs, ok := s.m.watchers[s.key]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.m.watchers, s.key)
			}
		}
	})
}

func sessionKey(code string) string          { return "session/" + code }
func collectionKey(code, coll string) string { return "coll/" + code + "/" + coll }

func (m *Memstore) GetSession(_ context.Context, code string) (store.Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.sessions[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyDoc(doc), nil
}

func (m *Memstore) SetSession(_ context.Context, code string, doc store.Doc) error {
	m.mu.Lock()
	m.sessions[code] = copyDoc(doc)
	m.mu.Unlock()
	m.notifySession(code)
	return nil
}

func (m *Memstore) MergeSession(_ context.Context, code string, fields store.Doc) error {
	m.mu.Lock()
	doc, ok := m.sessions[code]
	if !ok {
		doc = store.Doc{}
		m.sessions[code] = doc
	}
	for k, v := range copyDoc(fields) {
		doc[k] = v
	}
	m.mu.Unlock()
	m.notifySession(code)
	return nil
}

func (m *Memstore) DeleteSession(_ context.Context, code string) error {
	m.mu.Lock()
	delete(m.sessions, code)
	m.mu.Unlock()
	m.notifySession(code)
	return nil
}

func (m *Memstore) ListSessionCodes(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	codes := make([]string, 0, len(m.sessions))
	for code := range m.sessions {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (m *Memstore) PutChild(_ context.Context, code, coll, id string, doc store.Doc) error {
	m.mu.Lock()
	m.collection(code, coll)[id] = copyDoc(doc)
	m.mu.Unlock()
	m.notifyCollection(code, coll)
	return nil
}

func (m *Memstore) MergeChild(_ context.Context, code, coll, id string, fields store.Doc) error {
	m.mu.Lock()
	c := m.collection(code, coll)
	doc, ok := c[id]
	if !ok {
		doc = store.Doc{}
		c[id] = doc
	}
	for k, v := range copyDoc(fields) {
		doc[k] = v
	}
	m.mu.Unlock()
	m.notifyCollection(code, coll)
	return nil
}

func (m *Memstore) DeleteChild(_ context.Context, code, coll, id string) error {
	m.mu.Lock()
	if c, ok := m.children[code]; ok {
		delete(c[coll], id)
	}
	m.mu.Unlock()
	m.notifyCollection(code, coll)
	return nil
}

func (m *Memstore) ListChildren(_ context.Context, code, coll string) ([]store.Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotChildrenLocked(code, coll), nil
}

func (m *Memstore) WatchSession(_ context.Context, code string, fn func(doc store.Doc, ok bool)) (store.Subscription, error) {
	sub := &subscription{m: m, key: sessionKey(code), onDoc: fn}
	m.mu.Lock()
	m.addWatcherLocked(sub)
	doc, ok := m.sessions[code]
	if ok {
		doc = copyDoc(doc)
	}
	m.mu.Unlock()

	// initial snapshot
	fn(doc, ok)
	return sub, nil
}

func (m *Memstore) WatchChildren(_ context.Context, code, coll string, fn func(docs []store.Doc)) (store.Subscription, error) {
	sub := &subscription{m: m, key: collectionKey(code, coll), onColl: fn}
	m.mu.Lock()
	m.addWatcherLocked(sub)
	docs := m.snapshotChildrenLocked(code, coll)
	m.mu.Unlock()

	fn(docs)
	return sub, nil
}

func (m *Memstore) addWatcherLocked(sub *subscription) {
	subs, ok := m.watchers[sub.key]
	if !ok {
		subs = make(map[*subscription]struct{})
		m.watchers[sub.key] = subs
	}
	subs[sub] = struct{}{}
}

// collection returns the live child map, creating it if needed. Callers
// must hold the write lock.
func (m *Memstore) collection(code, coll string) map[string]store.Doc {
	c, ok := m.children[code]
	if !ok {
		c = make(map[string]map[string]store.Doc)
		m.children[code] = c
	}
	docs, ok := c[coll]
	if !ok {
		docs = make(map[string]store.Doc)
		c[coll] = docs
	}
	return docs
}

func (m *Memstore) snapshotChildrenLocked(code, coll string) []store.Doc {
	c := m.children[code]
	docs := make([]store.Doc, 0, len(c[coll]))
	ids := make([]string, 0, len(c[coll]))
	for id := range c[coll] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		doc := copyDoc(c[coll][id])
		doc["id"] = id
		docs = append(docs, doc)
	}
	return docs
}

func (m *Memstore) notifySession(code string) {
	m.mu.RLock()
	subs := watcherList(m.watchers[sessionKey(code)])
	doc, ok := m.sessions[code]
	if ok {
		doc = copyDoc(doc)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		sub.onDoc(doc, ok)
	}
	if len(subs) > 0 {
		log.Debug().Str("code", code).Int("watchers", len(subs)).Msg("session snapshot delivered")
	}
}

func (m *Memstore) notifyCollection(code, coll string) {
	m.mu.RLock()
	subs := watcherList(m.watchers[collectionKey(code, coll)])
	docs := m.snapshotChildrenLocked(code, coll)
	m.mu.RUnlock()

	for _, sub := range subs {
		sub.onColl(docs)
	}
}

func watcherList(subs map[*subscription]struct{}) []*subscription {
	out := make([]*subscription, 0, len(subs))
	for sub := range subs {
		out = append(out, sub)
	}
	return out
}

// copyDoc deep-copies a document so callers never alias store-owned maps.
func copyDoc(doc store.Doc) store.Doc {
	out := make(store.Doc, len(doc))
	for k, v := range doc {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copyDoc(nested)
			continue
		}
		out[k] = v
	}
	return out
}
