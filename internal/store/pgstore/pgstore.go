// Package pgstore is the Postgres store backend. Documents live as JSONB
// rows; merge-writes are jsonb concatenation, so top-level fields
// overwrite exactly like the remote store's field-level merge. Change push
// rides NATS: every committed write publishes a change event on a
// per-document subject and watchers re-read on each event, which gives
// per-document ordered, eventually-consistent delivery with no
// cross-document guarantees.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/focusroom/internal/events"
	"github.com/mcdev12/focusroom/internal/store"
)

// Config holds pgstore settings.
type Config struct {
	// SubjectPrefix namespaces the NATS change subjects.
	SubjectPrefix string
}

// DefaultConfig returns the default pgstore configuration.
func DefaultConfig() Config {
	return Config{SubjectPrefix: "focusroom"}
}

// Store implements store.Store over Postgres and NATS.
type Store struct {
	db  *sql.DB
	nc  *nats.Conn
	cfg Config
}

// New wires a pgstore over an open database handle and NATS connection.
// The schema is created if missing.
func New(ctx context.Context, db *sql.DB, nc *nats.Conn, cfg Config) (*Store, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultConfig().SubjectPrefix
	}
	s := &Store{db: db, nc: nc, cfg: cfg}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	code TEXT PRIMARY KEY,
	doc  JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS session_children (
	code TEXT NOT NULL,
	coll TEXT NOT NULL,
	id   TEXT NOT NULL,
	doc  JSONB NOT NULL,
	PRIMARY KEY (code, coll, id)
);
`

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) sessionSubject(code string) string {
	return fmt.Sprintf("%s.session.%s", s.cfg.SubjectPrefix, code)
}

func (s *Store) collectionSubject(code, coll string) string {
	return fmt.Sprintf("%s.session.%s.coll.%s", s.cfg.SubjectPrefix, code, coll)
}

func (s *Store) GetSession(ctx context.Context, code string) (store.Doc, error) {
	var raw pqtype.NullRawMessage
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM sessions WHERE code = $1`, code).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return decodeDoc(raw)
}

func (s *Store) SetSession(ctx context.Context, code string, doc store.Doc) error {
	raw, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (code, doc) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET doc = EXCLUDED.doc`,
		code, raw.RawMessage)
	if err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	s.publishSession(code, false)
	return nil
}

func (s *Store) MergeSession(ctx context.Context, code string, fields store.Doc) error {
	raw, err := encodeDoc(fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (code, doc) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET doc = sessions.doc || EXCLUDED.doc`,
		code, raw.RawMessage)
	if err != nil {
		return fmt.Errorf("failed to merge session: %w", err)
	}
	s.publishSession(code, false)
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, code string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE code = $1`, code); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.publishSession(code, true)
	return nil
}

func (s *Store) ListSessionCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM sessions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan session code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *Store) PutChild(ctx context.Context, code, coll, id string, doc store.Doc) error {
	raw, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_children (code, coll, id, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (code, coll, id) DO UPDATE SET doc = EXCLUDED.doc`,
		code, coll, id, raw.RawMessage)
	if err != nil {
		return fmt.Errorf("failed to put child document: %w", err)
	}
	s.publishCollection(code, coll)
	return nil
}

func (s *Store) MergeChild(ctx context.Context, code, coll, id string, fields store.Doc) error {
	raw, err := encodeDoc(fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_children (code, coll, id, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (code, coll, id) DO UPDATE SET doc = session_children.doc || EXCLUDED.doc`,
		code, coll, id, raw.RawMessage)
	if err != nil {
		return fmt.Errorf("failed to merge child document: %w", err)
	}
	s.publishCollection(code, coll)
	return nil
}

func (s *Store) DeleteChild(ctx context.Context, code, coll, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_children WHERE code = $1 AND coll = $2 AND id = $3`,
		code, coll, id)
	if err != nil {
		return fmt.Errorf("failed to delete child document: %w", err)
	}
	s.publishCollection(code, coll)
	return nil
}

func (s *Store) ListChildren(ctx context.Context, code, coll string) ([]store.Doc, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc FROM session_children WHERE code = $1 AND coll = $2 ORDER BY id`,
		code, coll)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var docs []store.Doc
	for rows.Next() {
		var id string
		var raw pqtype.NullRawMessage
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan child document: %w", err)
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		doc["id"] = id
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// WatchSession re-reads the session row on every change event for its
// subject. The current snapshot is delivered before the subscription is
// returned.
func (s *Store) WatchSession(ctx context.Context, code string, fn func(doc store.Doc, ok bool)) (store.Subscription, error) {
	sub, err := s.nc.Subscribe(s.sessionSubject(code), func(msg *nats.Msg) {
		var ev events.SessionChanged
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("malformed session change event")
			return
		}
		if ev.Deleted {
			fn(nil, false)
			return
		}
		doc, err := s.GetSession(context.Background(), code)
		if errors.Is(err, store.ErrNotFound) {
			fn(nil, false)
			return
		}
		if err != nil {
			log.Error().Err(err).Str("code", code).Msg("failed to re-read session on change")
			return
		}
		fn(doc, true)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to session changes: %w", err)
	}

	doc, err := s.GetSession(ctx, code)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fn(nil, false)
	case err != nil:
		_ = sub.Unsubscribe()
		return nil, err
	default:
		fn(doc, true)
	}
	return natsSubscription{sub}, nil
}

// WatchChildren re-reads the sub-collection on every change event for its
// subject, starting with the current snapshot.
func (s *Store) WatchChildren(ctx context.Context, code, coll string, fn func(docs []store.Doc)) (store.Subscription, error) {
	sub, err := s.nc.Subscribe(s.collectionSubject(code, coll), func(msg *nats.Msg) {
		docs, err := s.ListChildren(context.Background(), code, coll)
		if err != nil {
			log.Error().Err(err).Str("code", code).Str("coll", coll).Msg("failed to re-read collection on change")
			return
		}
		fn(docs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to collection changes: %w", err)
	}

	docs, err := s.ListChildren(ctx, code, coll)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	fn(docs)
	return natsSubscription{sub}, nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (n natsSubscription) Unsubscribe() {
	if err := n.sub.Unsubscribe(); err != nil {
		log.Debug().Err(err).Str("subject", n.sub.Subject).Msg("unsubscribe failed")
	}
}

// publishSession announces a session write or delete. Publish failures are
// logged, not returned: the write itself committed, and watchers converge
// on the next successful event.
func (s *Store) publishSession(code string, deleted bool) {
	payload, err := json.Marshal(events.SessionChanged{Code: code, Deleted: deleted, At: time.Now().UTC()})
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to marshal session change event")
		return
	}
	if err := s.nc.Publish(s.sessionSubject(code), payload); err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to publish session change event")
	}
}

func (s *Store) publishCollection(code, coll string) {
	payload, err := json.Marshal(events.CollectionChanged{Code: code, Collection: coll, At: time.Now().UTC()})
	if err != nil {
		log.Error().Err(err).Str("code", code).Str("coll", coll).Msg("failed to marshal collection change event")
		return
	}
	if err := s.nc.Publish(s.collectionSubject(code, coll), payload); err != nil {
		log.Error().Err(err).Str("code", code).Str("coll", coll).Msg("failed to publish collection change event")
	}
}

func encodeDoc(doc store.Doc) (pqtype.NullRawMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("failed to encode document: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

func decodeDoc(raw pqtype.NullRawMessage) (store.Doc, error) {
	if !raw.Valid {
		return store.Doc{}, nil
	}
	var doc store.Doc
	if err := json.Unmarshal(raw.RawMessage, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
