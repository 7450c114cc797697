// Package studio owns ideation sessions: the boards generated for one Parti,
// their outline and canvas, in-flight generations, and persistence.
package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/ideaboard/internal/canvas"
	"github.com/kalambet/ideaboard/internal/collection"
	"github.com/kalambet/ideaboard/internal/generate"
	"github.com/kalambet/ideaboard/internal/outline"
	"github.com/kalambet/ideaboard/internal/provider"
	"github.com/kalambet/ideaboard/internal/render"
	"github.com/kalambet/ideaboard/internal/storage"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrGenerating is returned when a generation for the same feature is
	// already running.
	ErrGenerating = errors.New("generation already in progress")
	// ErrUnknownFeature is returned for a board name that does not exist.
	ErrUnknownFeature = errors.New("unknown feature")
	// ErrNotConfigured is returned when the provider for an operation is not
	// wired.
	ErrNotConfigured = errors.New("provider not configured")
	// ErrInvalidPatch is returned when an item edit is not a JSON object
	// matching the item's fields.
	ErrInvalidPatch = errors.New("invalid patch")
)

const defaultSaveInterval = time.Second

// Generator is what sessions need from the model layer.
type Generator interface {
	Concepts(ctx context.Context, b generate.Board, avoid generate.Avoid) iter.Seq2[generate.Concept, error]
	Artifacts(ctx context.Context, b generate.Board, avoid generate.Avoid) iter.Seq2[generate.Artifact, error]
	Parameters(ctx context.Context, b generate.Board, avoid generate.Avoid) iter.Seq2[generate.Parameter, error]
	Designs(ctx context.Context, b generate.Board, avoid generate.Avoid) iter.Seq2[generate.Design, error]
	Mockups(ctx context.Context, b generate.Board, avoid generate.Avoid) iter.Seq2[generate.Mockup, error]
	RegenerateConcept(ctx context.Context, b generate.Board, avoid generate.Avoid) (generate.Concept, error)
	ConceptDescription(ctx context.Context, parti, concept string, examples []generate.Concept) (string, error)
	ArtifactDescription(ctx context.Context, parti, name string, examples []generate.Artifact) (string, error)
	ParameterDescription(ctx context.Context, domain, name string, examples []generate.Parameter) (string, error)
	ManualDesign(ctx context.Context, b generate.Board, idea string) (generate.Design, error)
	outline.Streamer
}

// Options wires a Studio to its providers.
type Options struct {
	Generator Generator
	Caption   canvas.CaptionFunc
	Blender   provider.Blender
	// TextModel is recorded in the generation history.
	TextModel string
	// AutoRender enqueues an image render for every new artifact and mockup.
	AutoRender   bool
	SaveInterval time.Duration
}

// Studio is the registry of sessions. Sessions are loaded from storage on
// first use and written back when dirty.
type Studio struct {
	store  *storage.Store
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	// persistMu orders snapshot writes against deletes.
	persistMu sync.Mutex
}

// New creates a Studio.
func New(store *storage.Store, opts Options) *Studio {
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = defaultSaveInterval
	}
	return &Studio{
		store:    store,
		opts:     opts,
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session and persists it.
func (st *Studio) Create(title, parti, domain string) (*Session, error) {
	s := newSession(st, uuid.New().String())
	s.title, s.parti, s.domain = title, parti, domain

	if err := st.Save(s); err != nil {
		return nil, fmt.Errorf("saving new session: %w", err)
	}
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s, nil
}

// Get returns the live session with id, loading it from storage if needed.
func (st *Studio) Get(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s, nil
	}

	row, err := st.store.GetSession(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(row.SnapshotJSON), &snap); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}

	s := newSession(st, id)
	s.Load(snap)
	s.dirty.Store(false)
	st.sessions[id] = s
	return s, nil
}

// List returns stored sessions, most recently updated first.
func (st *Studio) List(limit int) ([]storage.Session, error) {
	if err := st.SaveDirty(); err != nil {
		st.logger.Warn("saving sessions before list failed", "error", err)
	}
	return st.store.ListSessions(limit)
}

// Delete stops a session's generations and removes it.
func (st *Studio) Delete(id string) error {
	st.persistMu.Lock()
	defer st.persistMu.Unlock()

	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if ok {
		s.deleted.Store(true)
		s.stopAll()
	}

	err := st.store.DeleteSession(id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// History returns the session's generation runs, newest first.
func (st *Studio) History(id string, limit int) ([]storage.Generation, error) {
	return st.store.ListGenerations(id, limit)
}

// Save writes the session to storage. Deleted sessions are not written.
func (st *Studio) Save(s *Session) error {
	st.persistMu.Lock()
	defer st.persistMu.Unlock()
	if s.deleted.Load() {
		return nil
	}

	s.dirty.Store(false)
	snap := s.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("encoding session %s: %w", s.ID, err)
	}
	err = st.store.SaveSession(storage.Session{
		ID:           s.ID,
		Title:        snap.Title,
		SnapshotJSON: string(data),
		CreatedAt:    snap.CreatedAt,
		UpdatedAt:    time.Now().UTC(),
	})
	if err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("saving session %s: %w", s.ID, err)
	}
	return nil
}

// SaveDirty writes every session changed since its last save.
func (st *Studio) SaveDirty() error {
	st.mu.Lock()
	var dirty []*Session
	for _, s := range st.sessions {
		if s.dirty.Load() {
			dirty = append(dirty, s)
		}
	}
	st.mu.Unlock()

	var errs []error
	for _, s := range dirty {
		if err := st.Save(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run saves dirty sessions periodically until ctx is cancelled, then saves
// once more.
func (st *Studio) Run(ctx context.Context) {
	ticker := time.NewTicker(st.opts.SaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := st.SaveDirty(); err != nil {
				st.logger.Error("final session save failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := st.SaveDirty(); err != nil {
				st.logger.Warn("session save failed", "error", err)
			}
		}
	}
}

// Close cancels all generations and saves dirty sessions.
func (st *Studio) Close() error {
	st.mu.Lock()
	for _, s := range st.sessions {
		s.stopAll()
	}
	st.mu.Unlock()
	return st.SaveDirty()
}

// RequestRender enqueues an image render for an artifact or mockup.
func (st *Studio) RequestRender(s *Session, f Feature, itemID string) (string, error) {
	prompt, err := s.RenderPrompt(f, itemID)
	if err != nil {
		return "", err
	}
	return render.Enqueue(st.store, render.Payload{
		SessionID: s.ID,
		Feature:   string(f),
		ItemID:    itemID,
		Prompt:    prompt,
	})
}

// SetImage implements render.ImageSink.
func (st *Studio) SetImage(sessionID, feature, itemID, url string) error {
	s, err := st.Get(sessionID)
	if err == nil {
		err = s.SetImage(Feature(feature), itemID, url)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, collection.ErrNotFound) {
		return fmt.Errorf("%w: %w", render.ErrGone, err)
	}
	return err
}

func (st *Studio) recordGeneration(s *Session, f Feature, n int, err error) {
	g := storage.Generation{
		ID:        uuid.New().String(),
		SessionID: s.ID,
		Feature:   string(f),
		Model:     st.opts.TextModel,
		Prompt:    s.Board().Parti,
		ItemCount: n,
		Status:    "completed",
	}
	switch {
	case errors.Is(err, context.Canceled):
		g.Status = "stopped"
	case err != nil:
		g.Status = "failed"
		g.Error = err.Error()
	}
	if err := st.store.SaveGeneration(g); err != nil {
		st.logger.Warn("recording generation failed", "session", s.ID, "error", err)
	}
}
