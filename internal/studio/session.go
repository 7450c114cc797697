package studio

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/ideaboard/internal/canvas"
	"github.com/kalambet/ideaboard/internal/collection"
	"github.com/kalambet/ideaboard/internal/generate"
	"github.com/kalambet/ideaboard/internal/outline"
)

// Item is one element appended during a generation.
type Item struct {
	Feature Feature `json:"feature"`
	ID      string  `json:"id"`
	Value   any     `json:"value"`
}

// Snapshot is the persisted and broadcast form of a session.
type Snapshot struct {
	ID         string                                   `json:"id"`
	Title      string                                   `json:"title"`
	Parti      string                                   `json:"parti"`
	Domain     string                                   `json:"domain"`
	CreatedAt  time.Time                                `json:"created_at"`
	Concepts   collection.Snapshot[generate.Concept]    `json:"concepts"`
	Artifacts  collection.Snapshot[generate.Artifact]   `json:"artifacts"`
	Parameters collection.Snapshot[generate.Parameter]  `json:"parameters"`
	Designs    collection.Snapshot[generate.Design]     `json:"designs"`
	Mockups    collection.Snapshot[generate.Mockup]     `json:"mockups"`
	Outline    outline.Snapshot                         `json:"outline"`
	Canvas     collection.Snapshot[canvas.Image]        `json:"canvas"`
	Generating []Feature                                `json:"generating,omitempty"`
}

// Session is one board and everything generated on it. All methods are safe
// for concurrent use.
type Session struct {
	ID string

	Concepts   *collection.Collection[generate.Concept]
	Artifacts  *collection.Collection[generate.Artifact]
	Parameters *collection.Collection[generate.Parameter]
	Designs    *collection.Collection[generate.Design]
	Mockups    *collection.Collection[generate.Mockup]
	Outline    *outline.Tree
	Canvas     *canvas.Canvas

	st *Studio

	mu        sync.Mutex
	title     string
	parti     string
	domain    string
	createdAt time.Time
	running   map[Feature]context.CancelFunc

	dirty    atomic.Bool
	deleted  atomic.Bool
	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	nextW    int
}

func newSession(st *Studio, id string) *Session {
	s := &Session{
		ID:         id,
		Concepts:   collection.New(func(c generate.Concept) string { return c.Concept }),
		Artifacts:  collection.New(func(a generate.Artifact) string { return a.Name }),
		Parameters: collection.New(func(p generate.Parameter) string { return p.Name }),
		Designs:    collection.New(func(d generate.Design) string { return d.Name }),
		Mockups:    collection.New(func(m generate.Mockup) string { return m.Name }),
		Outline:    outline.New(""),
		Canvas:     canvas.New(),
		st:         st,
		createdAt:  time.Now().UTC(),
		running:    make(map[Feature]context.CancelFunc),
		watchers:   make(map[int]chan struct{}),
	}
	s.Concepts.OnChange(s.touch)
	s.Artifacts.OnChange(s.touch)
	s.Parameters.OnChange(s.touch)
	s.Designs.OnChange(s.touch)
	s.Mockups.OnChange(s.touch)
	s.Outline.OnChange(s.touch)
	s.Canvas.Images().OnChange(s.touch)
	return s
}

// touch marks the session dirty and wakes watchers.
func (s *Session) touch() {
	s.dirty.Store(true)
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch returns a channel that is signalled after changes. Signals coalesce.
func (s *Session) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.watchMu.Lock()
	id := s.nextW
	s.nextW++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	return ch, func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(ch)
		}
	}
}

// Title returns the session title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// Update changes the title, Parti or domain. Nil fields are left alone.
func (s *Session) Update(title, parti, domain *string) {
	s.mu.Lock()
	if title != nil {
		s.title = *title
	}
	if parti != nil {
		s.parti = *parti
	}
	if domain != nil {
		s.domain = *domain
	}
	s.mu.Unlock()
	s.touch()
}

// Board returns the accepted state that generation prompts build on.
func (s *Session) Board() generate.Board {
	s.mu.Lock()
	parti, domain := s.parti, s.domain
	s.mu.Unlock()
	return generate.Board{
		Parti:      parti,
		Domain:     domain,
		Concepts:   s.Concepts.Values(),
		Artifacts:  s.Artifacts.Values(),
		Parameters: s.Parameters.Values(),
		Designs:    s.Designs.Values(),
	}
}

// Items returns the board for f.
func (s *Session) Items(f Feature) (Items, error) {
	switch f {
	case FeatureConcepts:
		return list[generate.Concept]{s.Concepts}, nil
	case FeatureArtifacts:
		return list[generate.Artifact]{s.Artifacts}, nil
	case FeatureParameters:
		return list[generate.Parameter]{s.Parameters}, nil
	case FeatureDesigns:
		return list[generate.Design]{s.Designs}, nil
	case FeatureMockups:
		return list[generate.Mockup]{s.Mockups}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, f)
}

// Generating reports whether a generation for f is in flight.
func (s *Session) Generating(f Feature) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[f]
	return ok
}

func (s *Session) begin(ctx context.Context, f Feature) (context.Context, error) {
	s.mu.Lock()
	if _, busy := s.running[f]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrGenerating, f)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running[f] = cancel
	s.mu.Unlock()
	s.touch()
	return ctx, nil
}

func (s *Session) end(f Feature) {
	s.mu.Lock()
	if cancel, ok := s.running[f]; ok {
		cancel()
		delete(s.running, f)
	}
	s.mu.Unlock()
	s.touch()
}

// Stop cancels the generation for f. Items already appended stay. It
// reports whether anything was running.
func (s *Session) Stop(f Feature) bool {
	s.mu.Lock()
	cancel, ok := s.running[f]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Session) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.running {
		cancel()
	}
}

// Generate asks for more items of f. Unpinned items are rejected first so
// the model sees them as things to avoid; each element is appended as soon
// as it completes and passed to emit. Only one generation per feature runs
// at a time.
func (s *Session) Generate(ctx context.Context, f Feature, emit func(Item)) (int, error) {
	if _, err := s.Items(f); err != nil {
		return 0, err
	}
	ctx, err := s.begin(ctx, f)
	if err != nil {
		return 0, err
	}
	defer s.end(f)

	n, err := s.generate(ctx, f, emit)
	s.st.recordGeneration(s, f, n, err)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("generation failed", "session", s.ID, "feature", f, "items", n, "error", err)
	}
	return n, err
}

func (s *Session) generate(ctx context.Context, f Feature, emit func(Item)) (int, error) {
	g := s.st.opts.Generator
	switch f {
	case FeatureConcepts:
		avoid := sweep(s.Concepts)
		return appendAll(ctx, s, f, s.Concepts, g.Concepts(ctx, s.Board(), avoid), emit)
	case FeatureArtifacts:
		avoid := sweep(s.Artifacts)
		return appendAll(ctx, s, f, s.Artifacts, g.Artifacts(ctx, s.Board(), avoid), emit)
	case FeatureParameters:
		avoid := sweep(s.Parameters)
		return appendAll(ctx, s, f, s.Parameters, g.Parameters(ctx, s.Board(), avoid), emit)
	case FeatureDesigns:
		avoid := sweep(s.Designs)
		return appendAll(ctx, s, f, s.Designs, g.Designs(ctx, s.Board(), avoid), emit)
	case FeatureMockups:
		avoid := sweep(s.Mockups)
		return appendAll(ctx, s, f, s.Mockups, g.Mockups(ctx, s.Board(), avoid), emit)
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, f)
}

// sweep rejects unpinned items and returns what the model should avoid.
func sweep[T any](c *collection.Collection[T]) generate.Avoid {
	c.RejectUnpinned()
	return generate.Avoid{Existing: c.Names(), Rejected: c.RejectedNames()}
}

func appendAll[T any](ctx context.Context, s *Session, f Feature, c *collection.Collection[T], seq iter.Seq2[T, error], emit func(Item)) (int, error) {
	n := 0
	for v, err := range seq {
		if err != nil {
			return n, err
		}
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		e := c.Append(v)
		n++
		if emit != nil {
			emit(Item{Feature: f, ID: e.ID, Value: v})
		}
		if s.st.opts.AutoRender && f.Renderable() {
			if _, err := s.st.RequestRender(s, f, e.ID); err != nil {
				slog.Warn("render request failed", "session", s.ID, "feature", f, "item", e.ID, "error", err)
			}
		}
	}
	return n, ctx.Err()
}

// RegenerateConcept replaces one concept. field "concept" asks for a whole
// new concept; "description" rewrites only the description.
func (s *Session) RegenerateConcept(ctx context.Context, id, field string) (collection.Entry[generate.Concept], error) {
	e, ok := s.Concepts.Get(id)
	if !ok {
		return collection.Entry[generate.Concept]{}, fmt.Errorf("%w: %s", collection.ErrNotFound, id)
	}
	var others []generate.Concept
	for _, o := range s.Concepts.Items() {
		if o.ID != id {
			others = append(others, o.Value)
		}
	}
	board := s.Board()
	g := s.st.opts.Generator

	switch field {
	case "", "concept", "name":
		names := make([]string, len(others))
		for i, o := range others {
			names[i] = o.Concept
		}
		c, err := g.RegenerateConcept(ctx, board, generate.Avoid{
			Existing: names,
			Rejected: append(s.Concepts.RejectedNames(), e.Value.Concept),
		})
		if err != nil {
			return collection.Entry[generate.Concept]{}, err
		}
		return s.Concepts.Edit(id, func(v *generate.Concept) { *v = c })
	case "description":
		desc, err := g.ConceptDescription(ctx, board.Parti, e.Value.Concept, others)
		if err != nil {
			return collection.Entry[generate.Concept]{}, err
		}
		return s.Concepts.Edit(id, func(v *generate.Concept) { v.Description = desc })
	}
	return collection.Entry[generate.Concept]{}, fmt.Errorf("unknown concept field %q", field)
}

// DescribeParameter rewrites the description of an existing parameter.
func (s *Session) DescribeParameter(ctx context.Context, id string) (collection.Entry[generate.Parameter], error) {
	e, ok := s.Parameters.Get(id)
	if !ok {
		return collection.Entry[generate.Parameter]{}, fmt.Errorf("%w: %s", collection.ErrNotFound, id)
	}
	var examples []generate.Parameter
	for _, o := range s.Parameters.Items() {
		if o.ID != id && o.Value.Description != "" {
			examples = append(examples, o.Value)
		}
	}
	desc, err := s.st.opts.Generator.ParameterDescription(ctx, s.Board().Domain, e.Value.Name, examples)
	if err != nil {
		return collection.Entry[generate.Parameter]{}, err
	}
	return s.Parameters.Edit(id, func(v *generate.Parameter) { v.Description = desc })
}

// AddConcept appends a user-named concept with a generated description.
// User-authored items are pinned so the next generate-more keeps them.
func (s *Session) AddConcept(ctx context.Context, name string) (collection.Entry[generate.Concept], error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return collection.Entry[generate.Concept]{}, errors.New("concept name is empty")
	}
	desc, err := s.st.opts.Generator.ConceptDescription(ctx, s.Board().Parti, name, s.Concepts.Values())
	if err != nil {
		return collection.Entry[generate.Concept]{}, err
	}
	return s.Concepts.AppendPinned(generate.Concept{Concept: name, Description: desc}), nil
}

// AddArtifact appends a user-named, pinned artifact with a generated
// description and requests its render when auto-render is on.
func (s *Session) AddArtifact(ctx context.Context, name string) (collection.Entry[generate.Artifact], error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return collection.Entry[generate.Artifact]{}, errors.New("artifact name is empty")
	}
	desc, err := s.st.opts.Generator.ArtifactDescription(ctx, s.Board().Parti, name, s.Artifacts.Values())
	if err != nil {
		return collection.Entry[generate.Artifact]{}, err
	}
	e := s.Artifacts.AppendPinned(generate.Artifact{Name: name, Description: desc})
	if s.st.opts.AutoRender {
		if _, err := s.st.RequestRender(s, FeatureArtifacts, e.ID); err != nil {
			slog.Warn("render request failed", "session", s.ID, "feature", FeatureArtifacts, "item", e.ID, "error", err)
		}
	}
	return e, nil
}

// AddParameter appends a user-named, pinned parameter with a generated
// description.
func (s *Session) AddParameter(ctx context.Context, name string) (collection.Entry[generate.Parameter], error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return collection.Entry[generate.Parameter]{}, errors.New("parameter name is empty")
	}
	desc, err := s.st.opts.Generator.ParameterDescription(ctx, s.Board().Domain, name, s.Parameters.Values())
	if err != nil {
		return collection.Entry[generate.Parameter]{}, err
	}
	return s.Parameters.AppendPinned(generate.Parameter{Name: name, Description: desc}), nil
}

// AddDesign turns a free-text idea into a pinned design.
func (s *Session) AddDesign(ctx context.Context, idea string) (collection.Entry[generate.Design], error) {
	idea = strings.TrimSpace(idea)
	if idea == "" {
		return collection.Entry[generate.Design]{}, errors.New("design idea is empty")
	}
	d, err := s.st.opts.Generator.ManualDesign(ctx, s.Board(), idea)
	if err != nil {
		return collection.Entry[generate.Design]{}, err
	}
	return s.Designs.AppendPinned(d), nil
}

// RenderPrompt is the image prompt for an artifact or mockup.
func (s *Session) RenderPrompt(f Feature, id string) (string, error) {
	var name, desc string
	switch f {
	case FeatureArtifacts:
		e, ok := s.Artifacts.Get(id)
		if !ok {
			return "", fmt.Errorf("%w: %s", collection.ErrNotFound, id)
		}
		name, desc = e.Value.Name, e.Value.Description
	case FeatureMockups:
		e, ok := s.Mockups.Get(id)
		if !ok {
			return "", fmt.Errorf("%w: %s", collection.ErrNotFound, id)
		}
		name, desc = e.Value.Name, e.Value.Description
	default:
		return "", fmt.Errorf("%s items have no image", f)
	}
	return strings.TrimSpace(name + ". " + desc), nil
}

// SetImage stores a rendered image on an artifact or mockup.
func (s *Session) SetImage(f Feature, id, url string) error {
	switch f {
	case FeatureArtifacts:
		_, err := s.Artifacts.Edit(id, func(a *generate.Artifact) { a.ImageURL = url })
		return err
	case FeatureMockups:
		_, err := s.Mockups.Edit(id, func(m *generate.Mockup) { m.ImageURL = url })
		return err
	}
	return fmt.Errorf("%s items have no image", f)
}

// OutlineContent replaces the outline document and outlines it from scratch.
func (s *Session) OutlineContent(ctx context.Context, content, provider string) (int, error) {
	if strings.TrimSpace(content) == "" {
		return 0, errors.New("outline content is empty")
	}
	ctx, err := s.begin(ctx, FeatureOutline)
	if err != nil {
		return 0, err
	}
	defer s.end(FeatureOutline)

	s.Outline.Reset(content)
	n, err := s.Outline.Generate(ctx, s.st.opts.Generator, provider)
	s.st.recordGeneration(s, FeatureOutline, n, err)
	return n, err
}

// ExpandOutline streams children for an outline item.
func (s *Session) ExpandOutline(ctx context.Context, id, provider string) (int, error) {
	ctx, err := s.begin(ctx, FeatureOutline)
	if err != nil {
		return 0, err
	}
	defer s.end(FeatureOutline)
	return s.Outline.Expand(ctx, s.st.opts.Generator, id, provider)
}

// AskOutline adds a question under an item and streams the answer.
func (s *Session) AskOutline(ctx context.Context, id, question, provider string) (outline.Item, int, error) {
	if strings.TrimSpace(question) == "" {
		return outline.Item{}, 0, errors.New("question is empty")
	}
	ctx, err := s.begin(ctx, FeatureOutline)
	if err != nil {
		return outline.Item{}, 0, err
	}
	defer s.end(FeatureOutline)
	return s.Outline.Ask(ctx, s.st.opts.Generator, id, question, provider)
}

// CaptionImage describes one canvas image.
func (s *Session) CaptionImage(ctx context.Context, id string) (string, error) {
	if s.st.opts.Caption == nil {
		return "", ErrNotConfigured
	}
	return s.Canvas.Caption(ctx, s.st.opts.Caption, id)
}

// CaptionAll describes every uncaptioned canvas image.
func (s *Session) CaptionAll(ctx context.Context) (int, error) {
	if s.st.opts.Caption == nil {
		return 0, ErrNotConfigured
	}
	return s.Canvas.CaptionAll(ctx, s.st.opts.Caption)
}

// Blend combines canvas images into a new one.
func (s *Session) Blend(ctx context.Context, instruction string, ids []string) (collection.Entry[canvas.Image], error) {
	if s.st.opts.Blender == nil {
		return collection.Entry[canvas.Image]{}, ErrNotConfigured
	}
	return s.Canvas.Blend(ctx, s.st.opts.Blender, instruction, ids)
}

// Snapshot returns a detached copy of the whole session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		ID:        s.ID,
		Title:     s.title,
		Parti:     s.parti,
		Domain:    s.domain,
		CreatedAt: s.createdAt,
	}
	for f := range s.running {
		snap.Generating = append(snap.Generating, f)
	}
	s.mu.Unlock()
	slices.Sort(snap.Generating)

	snap.Concepts = s.Concepts.Snapshot()
	snap.Artifacts = s.Artifacts.Snapshot()
	snap.Parameters = s.Parameters.Snapshot()
	snap.Designs = s.Designs.Snapshot()
	snap.Mockups = s.Mockups.Snapshot()
	snap.Outline = s.Outline.Snapshot()
	snap.Canvas = s.Canvas.Images().Snapshot()
	return snap
}

// Load replaces the session state with snap. Generation state is not
// restored.
func (s *Session) Load(snap Snapshot) {
	s.mu.Lock()
	s.title = snap.Title
	s.parti = snap.Parti
	s.domain = snap.Domain
	if !snap.CreatedAt.IsZero() {
		s.createdAt = snap.CreatedAt
	}
	s.mu.Unlock()

	s.Concepts.Load(snap.Concepts)
	s.Artifacts.Load(snap.Artifacts)
	s.Parameters.Load(snap.Parameters)
	s.Designs.Load(snap.Designs)
	s.Mockups.Load(snap.Mockups)
	s.Outline.Load(snap.Outline)
	s.Canvas.Images().Load(snap.Canvas)
}
