package studio

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/ideaboard/internal/collection"
	"github.com/kalambet/ideaboard/internal/generate"
	"github.com/kalambet/ideaboard/internal/provider"
	"github.com/kalambet/ideaboard/internal/render"
	"github.com/kalambet/ideaboard/internal/storage"
)

// fakeModel replays canned deltas. When block is set the stream waits for
// cancellation after the deltas.
type fakeModel struct {
	mu          sync.Mutex
	deltas      []string
	block       bool
	completions []string
	reqs        []provider.Request
}

func (f *fakeModel) Stream(ctx context.Context, req provider.Request) iter.Seq2[string, error] {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	deltas := f.deltas
	block := f.block
	f.mu.Unlock()
	return func(yield func(string, error) bool) {
		for _, d := range deltas {
			if !yield(d, nil) {
				return
			}
		}
		if block {
			<-ctx.Done()
			yield("", ctx.Err())
		}
	}
}

func (f *fakeModel) Complete(_ context.Context, req provider.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if len(f.completions) == 0 {
		return "", errors.New("no completion")
	}
	c := f.completions[0]
	f.completions = f.completions[1:]
	return c, nil
}

func (f *fakeModel) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1].Prompt
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestStudio(t *testing.T, m *fakeModel, opts Options) (*Studio, *storage.Store) {
	t.Helper()
	store := openTestStore(t)
	opts.Generator = generate.New(m, nil, generate.Models{Text: "gpt-4.1", Fast: "gpt-5-mini"})
	opts.TextModel = "gpt-4.1"
	return New(store, opts), store
}

const conceptStream = `{"concepts":[{"concept":"Weightlessness","description":"floating"},{"concept":"Orbit","description":"circling"}]}`

func conceptNames(s *Session) []string {
	var out []string
	for _, e := range s.Concepts.Items() {
		out = append(out, e.Value.Concept)
	}
	return out
}

func TestGenerate_StreamOrderAndReject(t *testing.T) {
	m := &fakeModel{deltas: []string{conceptStream[:40], conceptStream[40:]}}
	st, _ := newTestStudio(t, m, Options{})
	s, err := st.Create("moon", "A chair for the moon", "furniture")
	if err != nil {
		t.Fatal(err)
	}

	var emitted []string
	n, err := s.Generate(context.Background(), FeatureConcepts, func(it Item) {
		emitted = append(emitted, it.Value.(generate.Concept).Concept)
	})
	if err != nil || n != 2 {
		t.Fatalf("Generate = %d, %v", n, err)
	}
	if got := strings.Join(conceptNames(s), ","); got != "Weightlessness,Orbit" {
		t.Errorf("items = %s", got)
	}
	if strings.Join(emitted, ",") != "Weightlessness,Orbit" {
		t.Errorf("emitted = %v", emitted)
	}

	items, _ := s.Items(FeatureConcepts)
	first := s.Concepts.Items()[0]
	if err := items.Reject(first.ID); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(conceptNames(s), ","); got != "Orbit" {
		t.Errorf("items after reject = %s", got)
	}
	if got := s.Concepts.RejectedNames(); len(got) != 1 || got[0] != "Weightlessness" {
		t.Errorf("rejected = %v", got)
	}
}

func TestGenerate_SweepsUnpinned(t *testing.T) {
	m := &fakeModel{deltas: []string{conceptStream}}
	st, _ := newTestStudio(t, m, Options{})
	s, _ := st.Create("", "A chair for the moon", "")

	if _, err := s.Generate(context.Background(), FeatureConcepts, nil); err != nil {
		t.Fatal(err)
	}
	orbit := s.Concepts.Items()[1]
	if err := s.Concepts.Pin(orbit.ID, true); err != nil {
		t.Fatal(err)
	}

	m.deltas = []string{`{"concepts":[{"concept":"Tether","description":"held"}]}`}
	if _, err := s.Generate(context.Background(), FeatureConcepts, nil); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(conceptNames(s), ","); got != "Orbit,Tether" {
		t.Errorf("items = %s", got)
	}
	if got := s.Concepts.RejectedNames(); len(got) != 1 || got[0] != "Weightlessness" {
		t.Errorf("rejected = %v", got)
	}
	if !strings.Contains(m.lastPrompt(), "Weightlessness") {
		t.Errorf("second prompt does not mention the rejected concept:\n%s", m.lastPrompt())
	}
}

func TestGenerate_BusyAndStop(t *testing.T) {
	m := &fakeModel{deltas: []string{`{"concepts":[{"concept":"A","description":"a"},`}, block: true}
	st, _ := newTestStudio(t, m, Options{})
	s, _ := st.Create("", "p", "")

	first := make(chan struct{})
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := s.Generate(context.Background(), FeatureConcepts, func(Item) { close(first) })
		done <- result{n, err}
	}()

	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("first item never arrived")
	}
	if !s.Generating(FeatureConcepts) {
		t.Error("Generating = false during stream")
	}
	if _, err := s.Generate(context.Background(), FeatureConcepts, nil); !errors.Is(err, ErrGenerating) {
		t.Errorf("second Generate err = %v, want ErrGenerating", err)
	}

	if !s.Stop(FeatureConcepts) {
		t.Error("Stop reported nothing running")
	}
	select {
	case r := <-done:
		if !errors.Is(r.err, context.Canceled) || r.n != 1 {
			t.Errorf("Generate = %d, %v", r.n, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not return after Stop")
	}
	if s.Generating(FeatureConcepts) {
		t.Error("Generating = true after stop")
	}
	if s.Concepts.Len() != 1 {
		t.Errorf("len = %d, appended items must survive a stop", s.Concepts.Len())
	}

	hist, err := st.History(s.ID, 10)
	if err != nil || len(hist) != 1 || hist[0].Status != "stopped" || hist[0].ItemCount != 1 {
		t.Errorf("history = %+v, %v", hist, err)
	}
}

func TestGenerate_UnknownFeature(t *testing.T) {
	st, _ := newTestStudio(t, &fakeModel{}, Options{})
	s, _ := st.Create("", "p", "")
	if _, err := s.Generate(context.Background(), Feature("sketches"), nil); !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("err = %v", err)
	}
	if _, err := ParseFeature("mockups"); err != nil {
		t.Errorf("ParseFeature(mockups) = %v", err)
	}
}

func TestPersistence(t *testing.T) {
	m := &fakeModel{deltas: []string{conceptStream}}
	st, store := newTestStudio(t, m, Options{})
	s, _ := st.Create("moon", "A chair for the moon", "furniture")
	s.Generate(context.Background(), FeatureConcepts, nil)
	s.Concepts.Pin(s.Concepts.Items()[0].ID, true)
	s.Canvas.Paste("data:image/png;base64,AA")

	if err := st.SaveDirty(); err != nil {
		t.Fatal(err)
	}

	other := New(store, Options{Generator: st.opts.Generator})
	got, err := other.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == s {
		t.Fatal("expected a freshly loaded session")
	}
	if strings.Join(conceptNames(got), ",") != "Weightlessness,Orbit" || !got.Concepts.Items()[0].Pinned {
		t.Errorf("concepts = %+v", got.Concepts.Items())
	}
	if got.Board().Domain != "furniture" || got.Title() != "moon" || got.Canvas.Images().Len() != 1 {
		t.Errorf("loaded snapshot = %+v", got.Snapshot())
	}

	list, err := other.List(10)
	if err != nil || len(list) != 1 || list[0].Title != "moon" {
		t.Errorf("List = %+v, %v", list, err)
	}

	if err := other.Delete(s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := other.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestRegenerateConcept(t *testing.T) {
	m := &fakeModel{
		deltas:      []string{conceptStream},
		completions: []string{`{"concept":"Drift","description":"slow motion"}`, "Rewritten."},
	}
	st, _ := newTestStudio(t, m, Options{})
	s, _ := st.Create("", "p", "")
	s.Generate(context.Background(), FeatureConcepts, nil)
	id := s.Concepts.Items()[0].ID

	e, err := s.RegenerateConcept(context.Background(), id, "concept")
	if err != nil || e.Value.Concept != "Drift" || e.ID != id {
		t.Fatalf("regenerate = %+v, %v", e, err)
	}
	e, err = s.RegenerateConcept(context.Background(), id, "description")
	if err != nil || e.Value.Description != "Rewritten." || e.Value.Concept != "Drift" {
		t.Fatalf("describe = %+v, %v", e, err)
	}
	if _, err := s.RegenerateConcept(context.Background(), "missing", "concept"); !errors.Is(err, collection.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestAddDesignAndPatch(t *testing.T) {
	m := &fakeModel{completions: []string{`{"name":"Tall","parameterAssignments":{"Height":"2m"}}`}}
	st, _ := newTestStudio(t, m, Options{})
	s, _ := st.Create("", "p", "")

	e, err := s.AddDesign(context.Background(), "make it tall")
	if err != nil {
		t.Fatal(err)
	}
	before := s.Designs.Snapshot()

	items, _ := s.Items(FeatureDesigns)
	if err := items.Patch(e.ID, json.RawMessage(`{"parameterAssignments":{"Width":"1m"}}`)); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Designs.Get(e.ID)
	if got.Value.ParameterAssignments["Height"] != "2m" || got.Value.ParameterAssignments["Width"] != "1m" {
		t.Errorf("patched = %+v", got.Value)
	}
	if _, ok := before.Items[0].Value.ParameterAssignments["Width"]; ok {
		t.Error("patch leaked into an earlier snapshot")
	}
	if _, err := s.AddDesign(context.Background(), "  "); err == nil {
		t.Error("expected error for empty idea")
	}
}

func TestManualAddSurvivesGenerate(t *testing.T) {
	m := &fakeModel{
		completions: []string{"What it is made of."},
		deltas:      []string{`{"parameters":[{"name":"Color","description":"hue"}]}`},
	}
	st, _ := newTestStudio(t, m, Options{})
	s, _ := st.Create("", "p", "furniture")

	e, err := s.AddParameter(context.Background(), "Material")
	if err != nil {
		t.Fatal(err)
	}
	if !e.Pinned || e.Value.Description != "What it is made of." {
		t.Fatalf("added = %+v", e)
	}
	if _, err := s.Generate(context.Background(), FeatureParameters, nil); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, it := range s.Parameters.Items() {
		names = append(names, it.Value.Name)
	}
	if got := strings.Join(names, ","); got != "Material,Color" {
		t.Errorf("items = %s", got)
	}
	if got := s.Parameters.RejectedNames(); len(got) != 0 {
		t.Errorf("rejected = %v", got)
	}
}

func TestAddConceptAndArtifact(t *testing.T) {
	m := &fakeModel{
		deltas:      []string{conceptStream},
		completions: []string{"Being held by something.", "A long braided cable."},
	}
	st, store := newTestStudio(t, m, Options{AutoRender: true})
	s, _ := st.Create("", "A chair for the moon", "")
	if _, err := s.Generate(context.Background(), FeatureConcepts, nil); err != nil {
		t.Fatal(err)
	}

	c, err := s.AddConcept(context.Background(), "  Tether ")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Pinned || c.Value.Concept != "Tether" || c.Value.Description != "Being held by something." {
		t.Errorf("concept = %+v", c)
	}
	m.mu.Lock()
	hist := m.reqs[len(m.reqs)-1].History
	m.mu.Unlock()
	if len(hist) != 4 || hist[0].Content != "Weightlessness" {
		t.Errorf("few-shot history = %+v", hist)
	}

	a, err := s.AddArtifact(context.Background(), "Cable")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Pinned || a.Value.Description != "A long braided cable." {
		t.Errorf("artifact = %+v", a)
	}
	job, err := store.ClaimNextJob([]string{render.JobType})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob = %v, %v", job, err)
	}
	if !strings.Contains(job.PayloadJSON, a.ID) {
		t.Errorf("render job = %s", job.PayloadJSON)
	}

	if _, err := s.AddConcept(context.Background(), " "); err == nil {
		t.Error("expected error for empty concept")
	}
	if _, err := s.AddArtifact(context.Background(), ""); err == nil {
		t.Error("expected error for empty artifact")
	}
}

func TestClearRejectedThroughItems(t *testing.T) {
	m := &fakeModel{deltas: []string{conceptStream}}
	st, _ := newTestStudio(t, m, Options{})
	s, _ := st.Create("", "p", "")
	s.Generate(context.Background(), FeatureConcepts, nil)
	s.Generate(context.Background(), FeatureConcepts, nil)

	items, _ := s.Items(FeatureConcepts)
	if n := items.ClearRejected(); n != 2 {
		t.Errorf("ClearRejected = %d, want 2", n)
	}
	if got := s.Concepts.RejectedNames(); len(got) != 0 {
		t.Errorf("rejected = %v", got)
	}
	if got := len(s.Concepts.Items()); got != 2 {
		t.Errorf("items = %d", got)
	}
}

func TestSaveAfterDeleteDoesNotResurrect(t *testing.T) {
	st, store := newTestStudio(t, &fakeModel{}, Options{})
	s, _ := st.Create("moon", "p", "")
	s.Canvas.Paste("data:image/png;base64,AA")

	if err := st.Delete(s.ID); err != nil {
		t.Fatal(err)
	}
	if err := st.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveDirty(); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetSession(s.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSession after delete = %v", err)
	}
	if _, err := st.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestDeleteRacesSaveDirty(t *testing.T) {
	st, store := newTestStudio(t, &fakeModel{}, Options{})
	var ids []string
	for range 20 {
		s, _ := st.Create("", "p", "")
		s.Canvas.Paste("data:image/png;base64,AA")
		ids = append(ids, s.ID)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 20 {
			st.SaveDirty()
		}
	}()
	for _, id := range ids {
		if err := st.Delete(id); err != nil {
			t.Error(err)
		}
	}
	wg.Wait()
	st.SaveDirty()

	for _, id := range ids {
		if _, err := store.GetSession(id); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("session %s came back: %v", id, err)
		}
	}
}

func TestAutoRender(t *testing.T) {
	m := &fakeModel{deltas: []string{`{"artifacts":[{"name":"Moon rock","description":"grey and porous"}]}`}}
	st, store := newTestStudio(t, m, Options{AutoRender: true})
	s, _ := st.Create("", "p", "")

	if _, err := s.Generate(context.Background(), FeatureArtifacts, nil); err != nil {
		t.Fatal(err)
	}
	job, err := store.ClaimNextJob([]string{render.JobType})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob = %v, %v", job, err)
	}
	var p render.Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		t.Fatal(err)
	}
	item := s.Artifacts.Items()[0]
	if p.SessionID != s.ID || p.ItemID != item.ID || p.Prompt != "Moon rock. grey and porous" {
		t.Errorf("payload = %+v", p)
	}

	if err := st.SetImage(s.ID, p.Feature, p.ItemID, "https://img/1.png"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Artifacts.Get(item.ID); got.Value.ImageURL != "https://img/1.png" {
		t.Errorf("image = %q", got.Value.ImageURL)
	}
	if err := st.SetImage(s.ID, "concepts", item.ID, "x"); err == nil || errors.Is(err, render.ErrGone) {
		t.Errorf("concepts image err = %v", err)
	}
	if err := st.SetImage(s.ID, p.Feature, "removed", "x"); !errors.Is(err, render.ErrGone) {
		t.Errorf("removed item err = %v, want ErrGone", err)
	}
	if err := st.SetImage("no-such-session", p.Feature, p.ItemID, "x"); !errors.Is(err, render.ErrGone) {
		t.Errorf("removed session err = %v, want ErrGone", err)
	}
}

func TestWatchSignalsChanges(t *testing.T) {
	st, _ := newTestStudio(t, &fakeModel{}, Options{})
	s, _ := st.Create("", "p", "")

	ch, cancel := s.Watch()
	defer cancel()
	title := "renamed"
	s.Update(&title, nil, nil)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change signal")
	}
	if s.Title() != "renamed" {
		t.Errorf("title = %q", s.Title())
	}
}

func TestCanvasOpsNeedProviders(t *testing.T) {
	st, _ := newTestStudio(t, &fakeModel{}, Options{})
	s, _ := st.Create("", "p", "")
	e, _ := s.Canvas.Paste("x")
	if _, err := s.CaptionImage(context.Background(), e.ID); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v", err)
	}
}
