package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/session"
	_ "modernc.org/sqlite"
)

// pruneEvery is how many appended events trigger a retention pass.
const pruneEvery = 200

// Event is one caption timeline entry.
type Event struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	Type           string    `json:"type"`
	UtteranceID    string    `json:"utterance_id,omitempty"`
	SourceText     string    `json:"source_text,omitempty"`
	TranslatedText string    `json:"translated_text,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Session summarizes one caption session.
type Session struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Events    int       `json:"events"`
}

// Store is an in-memory SQLite journal of caption events. Nothing survives
// a restart; with retention "ephemeral" nothing is recorded at all.
type Store struct {
	db       *sql.DB
	cfg      config.EventStoreConfig
	log      *slog.Logger
	clock    func() time.Time
	appended atomic.Int64
}

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	db, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Each connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    utterance_id TEXT,
    source_text TEXT,
    translated_text TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Enabled reports whether events are recorded.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendSession ensures a session row exists.
func (s *Store) AppendSession(ctx context.Context, sessionID string) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, created_at) VALUES(?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, s.clock().UnixNano())
	return err
}

// AppendEvent writes an event, creating its session on first sight.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if !s.Enabled() {
		return nil
	}
	if evt.SessionID == "" {
		return errors.New("event without session id")
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	if err := s.AppendSession(ctx, evt.SessionID); err != nil {
		return fmt.Errorf("append session: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(session_id, event_type, utterance_id, source_text, translated_text, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		evt.SessionID, evt.Type, evt.UtteranceID, evt.SourceText, evt.TranslatedText, evt.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if s.appended.Add(1)%pruneEvery == 0 {
		if err := s.Prune(ctx); err != nil {
			s.log.Warn("event store prune failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// ListSessionEvents retrieves up to limit events for a session in the order
// they were recorded.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, utterance_id, source_text, translated_text, created_at
		 FROM events WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			created int64
			uttID   sql.NullString
			source  sql.NullString
			target  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &uttID, &source, &target, &created); err != nil {
			return nil, err
		}
		e.UtteranceID = uttID.String
		e.SourceText = source.String
		e.TranslatedText = target.String
		e.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListSessions returns known sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	if !s.Enabled() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.created_at, COUNT(e.id)
		 FROM sessions s LEFT JOIN events e ON e.session_id = s.session_id
		 GROUP BY s.session_id, s.created_at
		 ORDER BY s.created_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess    Session
			created int64
		)
		if err := rows.Scan(&sess.SessionID, &created, &sess.Events); err != nil {
			return nil, err
		}
		sess.CreatedAt = time.Unix(0, created).UTC()
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Prune keeps the newest MaxSessions sessions and the newest MaxEvents
// events overall.
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.MaxSessions > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM events WHERE session_id NOT IN (SELECT session_id FROM sessions)`); err != nil {
			return err
		}
	}
	if s.cfg.MaxEvents > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE id IN (
			SELECT id FROM events ORDER BY id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEvents); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Listener journals session store changes.
func (s *Store) Listener(ctx context.Context) session.Listener {
	return func(change session.Change) {
		if !s.Enabled() {
			return
		}
		evt := Event{
			SessionID: change.SessionID,
			Type:      string(change.Kind),
			CreatedAt: change.At,
		}
		switch change.Kind {
		case session.ChangeCommit:
			evt.UtteranceID = change.Utterance.ID
			evt.SourceText = change.Utterance.SourceText
			evt.TranslatedText = change.Utterance.TranslatedText
		case session.ChangeDraft:
			evt.SourceText = change.Draft.SourceText
			evt.TranslatedText = change.Draft.TranslatedText
		case session.ChangeClear:
			// The clear closes the previous session; the new one starts empty.
			evt.SessionID = change.PreviousSessionID
			if err := s.AppendSession(ctx, change.SessionID); err != nil {
				s.log.Warn("failed to record session", slog.String("error", err.Error()))
			}
		}
		if err := s.AppendEvent(ctx, evt); err != nil {
			s.log.Warn("failed to journal caption event",
				slog.String("type", evt.Type),
				slog.String("error", err.Error()))
		}
	}
}
