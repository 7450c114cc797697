package generate

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/kalambet/ideaboard/internal/provider"
)

// fakeModel replays canned deltas and completions and records requests.
type fakeModel struct {
	deltas     []string
	streamErr  error
	completion string
	reqs       []provider.Request
}

func (f *fakeModel) Stream(_ context.Context, req provider.Request) iter.Seq2[string, error] {
	f.reqs = append(f.reqs, req)
	return func(yield func(string, error) bool) {
		for _, d := range f.deltas {
			if !yield(d, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield("", f.streamErr)
		}
	}
}

func (f *fakeModel) Complete(_ context.Context, req provider.Request) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.completion, nil
}

func models() Models {
	return Models{Text: "gpt-4.1", Fast: "gpt-5-mini", GeminiText: "gemini-2.5-flash", DesignTemperature: 0.3}
}

func TestConcepts_StreamOrderAndShapeCheck(t *testing.T) {
	m := &fakeModel{deltas: []string{
		`{"concepts":[{"concept":"Weightless`,
		`ness","description":"floating"},{"concept":"","description":"dropped"},`,
		`{"concept":"Orbit","description":"circling"}]}`,
	}}
	g := New(m, nil, models())

	var got []string
	for c, err := range g.Concepts(context.Background(), Board{Parti: "A chair that floats"}, Avoid{}) {
		if err != nil {
			t.Fatalf("Concepts: %v", err)
		}
		got = append(got, c.Concept)
	}
	if strings.Join(got, ",") != "Weightlessness,Orbit" {
		t.Errorf("concepts = %v", got)
	}
	if !m.reqs[0].JSON || m.reqs[0].Model != "gpt-4.1" {
		t.Errorf("request = %+v", m.reqs[0])
	}
	if !strings.Contains(m.reqs[0].Prompt, "Generate 5-7 diverse concepts") {
		t.Errorf("prompt = %s", m.reqs[0].Prompt)
	}
}

func TestBatchSizes(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		run      func(*Generator, Avoid)
		want     string
	}{
		{"artifacts first", nil, func(g *Generator, a Avoid) { drain(g.Artifacts(context.Background(), Board{}, a)) }, "Generate 5 diverse artifacts"},
		{"artifacts more", []string{"x"}, func(g *Generator, a Avoid) { drain(g.Artifacts(context.Background(), Board{}, a)) }, "Generate 3 diverse artifacts"},
		{"parameters first", nil, func(g *Generator, a Avoid) { drain(g.Parameters(context.Background(), Board{Domain: "lamps"}, a)) }, "Generate 3 design parameters"},
		{"parameters more", []string{"x"}, func(g *Generator, a Avoid) { drain(g.Parameters(context.Background(), Board{Domain: "lamps"}, a)) }, "Generate 2 design parameters"},
		{"designs first", nil, func(g *Generator, a Avoid) { drain(g.Designs(context.Background(), Board{Domain: "lamps"}, a)) }, "Generate 3 diverse design"},
		{"mockups more", []string{"Front"}, func(g *Generator, a Avoid) { drain(g.Mockups(context.Background(), Board{Domain: "lamps"}, a)) }, "Generate 2 different views"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeModel{}
			tt.run(New(m, nil, models()), Avoid{Existing: tt.existing})
			if !strings.Contains(m.reqs[0].Prompt, tt.want) {
				t.Errorf("prompt missing %q:\n%s", tt.want, m.reqs[0].Prompt)
			}
		})
	}
}

func drain[T any](seq iter.Seq2[T, error]) {
	for range seq {
	}
}

func TestDesigns_TemperatureAndContext(t *testing.T) {
	m := &fakeModel{deltas: []string{`{"designs":[{"name":"Cloud","parameterAssignments":{"Material":"foam"}},{"name":"NoParams"}]}`}}
	g := New(m, nil, models())

	b := Board{
		Parti:      "p",
		Domain:     "chairs",
		Parameters: []Parameter{{Name: "Material", Description: "what it is made of"}},
	}
	var got []Design
	for d, err := range g.Designs(context.Background(), b, Avoid{Rejected: []string{"Stone"}}) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, d)
	}
	if len(got) != 1 || got[0].ParameterAssignments["Material"] != "foam" {
		t.Fatalf("designs = %+v", got)
	}
	req := m.reqs[0]
	if req.Temperature == nil || *req.Temperature != 0.3 {
		t.Errorf("temperature = %v", req.Temperature)
	}
	if !strings.Contains(req.Prompt, "```parameters\n- Material: what it is made of\n```") {
		t.Errorf("parameters block missing:\n%s", req.Prompt)
	}
	if !strings.Contains(req.Prompt, "Rejected designs (do not suggest these):\n- Stone") {
		t.Errorf("rejected block missing:\n%s", req.Prompt)
	}
}

func TestMockups_DesignList(t *testing.T) {
	m := &fakeModel{}
	g := New(m, nil, models())
	drain(g.Mockups(context.Background(), Board{Domain: "chairs", Designs: []Design{
		{Name: "Cloud", ParameterAssignments: map[string]string{"Material": "foam", "Color": "white"}},
	}}, Avoid{}))

	want := "**Cloud**\n  - Color: white\n  - Material: foam"
	if !strings.Contains(m.reqs[0].Prompt, want) {
		t.Errorf("prompt missing %q:\n%s", want, m.reqs[0].Prompt)
	}
}

func TestStreamErrorEndsSequence(t *testing.T) {
	boom := errors.New("connection reset")
	m := &fakeModel{deltas: []string{`{"artifacts":[{"name":"a","description":"b"},`}, streamErr: boom}
	g := New(m, nil, models())

	var names []string
	var gotErr error
	for a, err := range g.Artifacts(context.Background(), Board{}, Avoid{}) {
		if err != nil {
			gotErr = err
			break
		}
		names = append(names, a.Name)
	}
	if len(names) != 1 || !errors.Is(gotErr, boom) {
		t.Errorf("names = %v, err = %v", names, gotErr)
	}
}

func TestManualDesign(t *testing.T) {
	m := &fakeModel{completion: `{"name":"Hammock","parameterAssignments":{"Material":"rope"}}`}
	g := New(m, nil, models())

	b := Board{Domain: "chairs", Designs: []Design{{Name: "Cloud", ParameterAssignments: map[string]string{"Material": "foam"}}}}
	d, err := g.ManualDesign(context.Background(), b, "something to swing in")
	if err != nil {
		t.Fatalf("ManualDesign: %v", err)
	}
	if d.Name != "Hammock" {
		t.Errorf("design = %+v", d)
	}
	req := m.reqs[0]
	if len(req.History) != 2 || req.History[0].Content != "Cloud" || !strings.Contains(req.History[1].Content, `"parameterAssignments":{"Material":"foam"}`) {
		t.Errorf("history = %+v", req.History)
	}
	if req.Prompt != "something to swing in" || !req.JSON {
		t.Errorf("request = %+v", req)
	}
}

func TestManualDesign_Malformed(t *testing.T) {
	for _, body := range []string{`not json`, `{"name":"x"}`} {
		m := &fakeModel{completion: body}
		_, err := New(m, nil, models()).ManualDesign(context.Background(), Board{}, "idea")
		if !provider.IsDecode(err) {
			t.Errorf("completion %q: err = %v, want DecodeError", body, err)
		}
	}
}

func TestParameterDescription_FewShot(t *testing.T) {
	m := &fakeModel{completion: "The finish"}
	g := New(m, nil, models())
	got, err := g.ParameterDescription(context.Background(), "chairs", "Finish", []Parameter{{Name: "Material", Description: "What it is made of"}})
	if err != nil || got != "The finish" {
		t.Fatalf("got %q, %v", got, err)
	}
	req := m.reqs[0]
	if !strings.Contains(req.System, "in the context of chairs") || len(req.History) != 2 || req.Prompt != "Finish" {
		t.Errorf("request = %+v", req)
	}
}

func TestArtifactDescription_FewShot(t *testing.T) {
	m := &fakeModel{completion: "Grey powder drifting"}
	g := New(m, nil, models())
	got, err := g.ArtifactDescription(context.Background(), "A chair for the moon", "Regolith", []Artifact{
		{Name: "Crater", Description: "A shallow bowl"},
		{Name: "Visor", Description: "Gold reflection"},
	})
	if err != nil || got != "Grey powder drifting" {
		t.Fatalf("got %q, %v", got, err)
	}
	req := m.reqs[0]
	if !strings.Contains(req.System, "A chair for the moon") || len(req.History) != 4 || req.Prompt != "Regolith" {
		t.Errorf("request = %+v", req)
	}
	if req.History[0].Content != "Crater" || req.History[1].Content != "A shallow bowl" {
		t.Errorf("history = %+v", req.History)
	}
}

func TestOutline_Variants(t *testing.T) {
	tests := []struct {
		name string
		req  OutlineRequest
		want string
	}{
		{"root", OutlineRequest{Content: "doc"}, "Distill the following content"},
		{"expand", OutlineRequest{Content: "doc", Bullet: "Gravity"}, `expand on "Gravity"`},
		{"question", OutlineRequest{Content: "doc", Bullet: "Why?", Question: true}, `asked a question "Why?"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeModel{deltas: []string{`{"outline":[{"sources":["doc"],"bulletPoint":"A point"}]}`}}
			var got []Bullet
			for b, err := range New(m, nil, models()).Outline(context.Background(), tt.req) {
				if err != nil {
					t.Fatal(err)
				}
				got = append(got, b)
			}
			if len(got) != 1 || got[0].Sources[0] != "doc" {
				t.Errorf("bullets = %+v", got)
			}
			if m.reqs[0].Model != "gpt-5-mini" || !strings.Contains(m.reqs[0].Prompt, tt.want) {
				t.Errorf("request = %+v", m.reqs[0])
			}
		})
	}
}

func TestOutline_Gemini(t *testing.T) {
	openai := &fakeModel{}
	gemini := &fakeModel{deltas: []string{`[{"sources":["s"],"bulletPoint":"b"}]`}}
	g := New(openai, gemini, models())

	var n int
	for _, err := range g.Outline(context.Background(), OutlineRequest{Content: " doc ", Provider: "gemini"}) {
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 1 || len(openai.reqs) != 0 {
		t.Fatalf("n = %d, openai calls = %d", n, len(openai.reqs))
	}
	req := gemini.reqs[0]
	if len(req.Schema) == 0 || req.Temperature == nil || *req.Temperature != 0 {
		t.Errorf("request = %+v", req)
	}
	if !strings.Contains(req.System, "```content\ndoc\n```") {
		t.Errorf("system = %q", req.System)
	}
}
