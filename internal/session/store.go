package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Utterance is a committed, immutable transcription of one utterance.
type Utterance struct {
	ID             string    `json:"id"`
	SourceText     string    `json:"source_text"`
	TranslatedText string    `json:"translated_text"`
	CommittedAt    time.Time `json:"committed_at"`
}

// Draft is the best current transcription of the utterance still being
// accumulated.
type Draft struct {
	SourceText         string `json:"source_text"`
	TranslatedText     string `json:"translated_text"`
	TranslationPending bool   `json:"translation_pending,omitempty"`
}

func (d Draft) Empty() bool { return d.SourceText == "" }

// Entry is one line of a snapshot as served to displays.
type Entry struct {
	ID                 string `json:"id,omitempty"`
	SourceText         string `json:"source_text"`
	TranslatedText     string `json:"translated_text"`
	IsDraft            bool   `json:"is_draft"`
	TranslationPending bool   `json:"translation_pending,omitempty"`
}

type ChangeKind string

const (
	ChangeDraft  ChangeKind = "draft"
	ChangeCommit ChangeKind = "commit"
	ChangeClear  ChangeKind = "clear"
)

// Change describes a single mutation. Changes reach listeners in the same
// order they were applied to the store.
type Change struct {
	Kind      ChangeKind
	SessionID string
	// PreviousSessionID is set on clear.
	PreviousSessionID string
	Utterance         Utterance
	Draft             Draft
	At                time.Time
}

type Listener func(Change)

// Store holds the committed utterances and the current draft. All reads
// and writes go through one mutex so a snapshot is never half-written.
// Writers also hold notifyMu from mutation through delivery, so readers
// are not blocked by slow listeners while notifications stay ordered.
type Store struct {
	notifyMu  sync.Mutex
	mu        sync.Mutex
	sessionID string
	committed []Utterance
	draft     Draft
	listeners []Listener
	clock     func() time.Time
}

func NewStore() *Store {
	return &Store{sessionID: uuid.NewString(), clock: time.Now}
}

// OnChange registers l. Listeners run on the writer's goroutine and must
// not call back into the store's mutators.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Store) AppendCommitted(u Utterance) Utterance {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CommittedAt.IsZero() {
		u.CommittedAt = s.clock().UTC()
	}
	s.committed = append(s.committed, u)
	change := Change{Kind: ChangeCommit, SessionID: s.sessionID, Utterance: u, At: u.CommittedAt}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, change)
	return u
}

// SetDraft replaces the draft. Setting an identical draft is a no-op.
func (s *Store) SetDraft(d Draft) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	if s.draft == d {
		s.mu.Unlock()
		return
	}
	s.draft = d
	change := Change{Kind: ChangeDraft, SessionID: s.sessionID, Draft: d, At: s.clock().UTC()}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, change)
}

// Snapshot lists committed utterances in order followed by the draft when
// it is non-empty.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := lo.Map(s.committed, func(u Utterance, _ int) Entry {
		return Entry{ID: u.ID, SourceText: u.SourceText, TranslatedText: u.TranslatedText}
	})
	if !s.draft.Empty() {
		entries = append(entries, Entry{
			SourceText:         s.draft.SourceText,
			TranslatedText:     s.draft.TranslatedText,
			IsDraft:            true,
			TranslationPending: s.draft.TranslationPending,
		})
	}
	return entries
}

// Committed returns a copy of the committed utterances.
func (s *Store) Committed() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Utterance(nil), s.committed...)
}

func (s *Store) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Clear empties the committed list and the draft in one step and starts a
// new session ID.
func (s *Store) Clear() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	previous := s.sessionID
	s.committed = nil
	s.draft = Draft{}
	s.sessionID = uuid.NewString()
	change := Change{Kind: ChangeClear, SessionID: s.sessionID, PreviousSessionID: previous, At: s.clock().UTC()}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, change)
}

func notify(listeners []Listener, change Change) {
	for _, l := range listeners {
		l(change)
	}
}
