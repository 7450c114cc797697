// Package generate builds prompts from board state and turns streamed model
// output into typed items, one per completed JSON array element.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/kalambet/ideaboard/internal/jsonstream"
	"github.com/kalambet/ideaboard/internal/prompt"
	"github.com/kalambet/ideaboard/internal/provider"
)

// TextModel is what the generator needs from a text provider.
type TextModel interface {
	provider.TextStreamer
	provider.Completer
}

// Models selects the model for each kind of call.
type Models struct {
	Text              string // list generation, regenerations
	Fast              string // outline, captions
	GeminiText        string // outline through Gemini
	DesignTemperature float64
}

// Generator issues generation calls. Gemini is optional and only used for
// outlines that ask for it.
type Generator struct {
	openai TextModel
	gemini TextModel
	models Models
}

// New creates a Generator.
func New(openai, gemini TextModel, models Models) *Generator {
	return &Generator{
		openai: openai,
		gemini: gemini,
		models: models,
	}
}

// batch is the number of items to ask for: the first batch is larger than
// the incremental ones.
func batch(existing, first, more int) int {
	if existing > 0 {
		return more
	}
	return first
}

func stream[T any](ctx context.Context, m provider.TextStreamer, req provider.Request, valid func(json.RawMessage) bool) iter.Seq2[T, error] {
	return jsonstream.Decode[T](m.Stream(ctx, req), valid)
}

// Concepts streams 5-7 concepts for the Parti.
func (g *Generator) Concepts(ctx context.Context, b Board, avoid Avoid) iter.Seq2[Concept, error] {
	p := prompt.MustRender("concepts", map[string]string{
		"parti":    b.Parti,
		"existing": prompt.Bullets(avoid.Existing),
		"rejected": prompt.Bullets(avoid.Rejected),
		"count":    "5-7",
	})
	return stream[Concept](ctx, g.openai, provider.Request{Model: g.models.Text, Prompt: p, JSON: true},
		jsonstream.Has("concept", "description"))
}

// Artifacts streams 5 moodboard artifacts, or 3 when some already exist.
func (g *Generator) Artifacts(ctx context.Context, b Board, avoid Avoid) iter.Seq2[Artifact, error] {
	p := prompt.MustRender("artifacts", map[string]string{
		"parti":    b.Parti,
		"concepts": conceptList(b.Concepts),
		"existing": prompt.Bullets(avoid.Existing),
		"rejected": prompt.Bullets(avoid.Rejected),
		"count":    strconv.Itoa(batch(len(avoid.Existing), 5, 3)),
	})
	return stream[Artifact](ctx, g.openai, provider.Request{Model: g.models.Text, Prompt: p, JSON: true},
		jsonstream.Has("name", "description"))
}

// Parameters streams 3 parameters for the domain, or 2 when some exist.
func (g *Generator) Parameters(ctx context.Context, b Board, avoid Avoid) iter.Seq2[Parameter, error] {
	p := prompt.MustRender("parameters", map[string]string{
		"parti":     b.Parti,
		"domain":    b.Domain,
		"concepts":  conceptList(b.Concepts),
		"artifacts": artifactList(b.Artifacts),
		"existing":  prompt.Bullets(avoid.Existing),
		"rejected":  prompt.Bullets(avoid.Rejected),
		"count":     strconv.Itoa(batch(len(avoid.Existing), 3, 2)),
	})
	return stream[Parameter](ctx, g.openai, provider.Request{Model: g.models.Text, Prompt: p, JSON: true},
		jsonstream.Has("name", "description"))
}

// Designs streams 3 designs, or 2 when some exist.
func (g *Generator) Designs(ctx context.Context, b Board, avoid Avoid) iter.Seq2[Design, error] {
	p := prompt.MustRender("designs", map[string]string{
		"parti":      b.Parti,
		"domain":     b.Domain,
		"concepts":   conceptList(b.Concepts),
		"artifacts":  artifactList(b.Artifacts),
		"parameters": parameterList(b.Parameters),
		"existing":   prompt.Bullets(avoid.Existing),
		"rejected":   prompt.Bullets(avoid.Rejected),
		"count":      strconv.Itoa(batch(len(avoid.Existing), 3, 2)),
	})
	return stream[Design](ctx, g.openai, provider.Request{
		Model:       g.models.Text,
		Prompt:      p,
		JSON:        true,
		Temperature: provider.Float(g.models.DesignTemperature),
	}, jsonstream.Has("name", "parameterAssignments"))
}

// Mockups streams 3 views of the unified design, or 2 when some exist.
func (g *Generator) Mockups(ctx context.Context, b Board, avoid Avoid) iter.Seq2[Mockup, error] {
	p := prompt.MustRender("mockups", map[string]string{
		"domain":   b.Domain,
		"designs":  designList(b.Designs),
		"existing": prompt.Bullets(avoid.Existing),
		"rejected": prompt.Bullets(avoid.Rejected),
		"count":    strconv.Itoa(batch(len(avoid.Existing), 3, 2)),
	})
	return stream[Mockup](ctx, g.openai, provider.Request{
		Model:       g.models.Text,
		Prompt:      p,
		JSON:        true,
		Temperature: provider.Float(g.models.DesignTemperature),
	}, jsonstream.Has("name", "description"))
}

// RegenerateConcept asks for a single replacement concept.
func (g *Generator) RegenerateConcept(ctx context.Context, b Board, avoid Avoid) (Concept, error) {
	p := prompt.MustRender("regenerate_concept", map[string]string{
		"parti":    b.Parti,
		"existing": prompt.Bullets(avoid.Existing),
		"rejected": prompt.Bullets(avoid.Rejected),
	})
	text, err := g.openai.Complete(ctx, provider.Request{Model: g.models.Text, Prompt: p, JSON: true})
	if err != nil {
		return Concept{}, err
	}
	var c Concept
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return Concept{}, &provider.DecodeError{Provider: "openai", Msg: "failed to parse concept JSON response", Err: err}
	}
	if c.Concept == "" || c.Description == "" {
		return Concept{}, &provider.DecodeError{Provider: "openai", Msg: "concept response is missing fields"}
	}
	return c, nil
}

// ConceptDescription writes a description for concept, using the other
// concepts as few-shot examples.
func (g *Generator) ConceptDescription(ctx context.Context, parti, concept string, examples []Concept) (string, error) {
	var history []provider.Message
	for _, ex := range examples {
		history = append(history,
			provider.Message{Role: "user", Content: ex.Concept},
			provider.Message{Role: "assistant", Content: ex.Description})
	}
	return g.openai.Complete(ctx, provider.Request{
		Model:   g.models.Text,
		System:  prompt.MustRender("concept_description", map[string]string{"parti": parti}),
		History: history,
		Prompt:  concept,
	})
}

// ArtifactDescription writes a description for a user-named artifact, with
// the board's artifacts as few-shot examples.
func (g *Generator) ArtifactDescription(ctx context.Context, parti, name string, examples []Artifact) (string, error) {
	var history []provider.Message
	for _, ex := range examples {
		history = append(history,
			provider.Message{Role: "user", Content: ex.Name},
			provider.Message{Role: "assistant", Content: ex.Description})
	}
	return g.openai.Complete(ctx, provider.Request{
		Model:   g.models.Text,
		System:  prompt.MustRender("artifact_description", map[string]string{"parti": parti}),
		History: history,
		Prompt:  name,
	})
}

// ParameterDescription writes a description for a parameter name, using
// existing parameters as few-shot examples.
func (g *Generator) ParameterDescription(ctx context.Context, domain, name string, examples []Parameter) (string, error) {
	var history []provider.Message
	for _, ex := range examples {
		history = append(history,
			provider.Message{Role: "user", Content: ex.Name},
			provider.Message{Role: "assistant", Content: ex.Description})
	}
	return g.openai.Complete(ctx, provider.Request{
		Model:   g.models.Text,
		System:  prompt.MustRender("parameter_description", map[string]string{"domain": domain}),
		History: history,
		Prompt:  name,
	})
}

// ManualDesign turns a free-text idea into a design, with the board's
// existing designs as few-shot examples.
func (g *Generator) ManualDesign(ctx context.Context, b Board, idea string) (Design, error) {
	system := prompt.MustRender("manual_design", map[string]string{
		"idea":       idea,
		"parti":      b.Parti,
		"domain":     b.Domain,
		"concepts":   conceptList(b.Concepts),
		"artifacts":  artifactList(b.Artifacts),
		"parameters": parameterList(b.Parameters),
	})

	var history []provider.Message
	for _, ex := range b.Designs {
		shot, err := json.Marshal(Design{Name: ex.Name, ParameterAssignments: ex.ParameterAssignments})
		if err != nil {
			return Design{}, err
		}
		history = append(history,
			provider.Message{Role: "user", Content: ex.Name},
			provider.Message{Role: "assistant", Content: string(shot)})
	}

	text, err := g.openai.Complete(ctx, provider.Request{
		Model:       g.models.Text,
		System:      system,
		History:     history,
		Prompt:      idea,
		JSON:        true,
		Temperature: provider.Float(g.models.DesignTemperature),
	})
	if err != nil {
		return Design{}, err
	}

	var d Design
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return Design{}, &provider.DecodeError{Provider: "openai", Msg: "failed to parse design JSON response", Err: err}
	}
	if d.Name == "" || d.ParameterAssignments == nil {
		return Design{}, &provider.DecodeError{Provider: "openai", Msg: "design response is missing fields"}
	}
	return d, nil
}

// OutlineRequest describes one outline call. An empty Bullet outlines the
// whole content; otherwise the call expands Bullet, or answers it when
// Question is set. Context is the ancestor context of the focused bullet.
type OutlineRequest struct {
	Content  string
	Bullet   string
	Question bool
	Context  string
	// Provider is "openai" (default) or "gemini".
	Provider string
}

var outlineSchema = json.RawMessage(`{"type":"ARRAY","items":{"type":"OBJECT","required":["sources","bulletPoint"],"properties":{"sources":{"type":"ARRAY","items":{"type":"STRING"}},"bulletPoint":{"type":"STRING"}}}}`)

// Outline streams bullet points for the content.
func (g *Generator) Outline(ctx context.Context, r OutlineRequest) iter.Seq2[Bullet, error] {
	instruction := prompt.MustRender("outline_root", nil)
	switch {
	case r.Bullet != "" && r.Question:
		instruction = prompt.MustRender("outline_question", map[string]string{"bullet": r.Bullet})
	case r.Bullet != "":
		instruction = prompt.MustRender("outline_expand", map[string]string{"bullet": r.Bullet})
	}

	valid := jsonstream.Has("bulletPoint")

	if r.Provider == "gemini" {
		if g.gemini == nil {
			return func(yield func(Bullet, error) bool) {
				yield(Bullet{}, fmt.Errorf("gemini outline: %w", provider.MissingKey("gemini")))
			}
		}
		return stream[Bullet](ctx, g.gemini, provider.Request{
			Model:       g.models.GeminiText,
			System:      prompt.MustRender("outline_gemini_system", map[string]string{"content": strings.TrimSpace(r.Content)}),
			Prompt:      prompt.MustRender("outline_gemini", map[string]string{"instruction": instruction, "context": r.Context}),
			Schema:      outlineSchema,
			Temperature: provider.Float(0),
		}, valid)
	}

	p := prompt.MustRender("outline", map[string]string{
		"instruction": instruction,
		"content":     r.Content,
		"context":     r.Context,
	})
	return stream[Bullet](ctx, g.openai, provider.Request{Model: g.models.Fast, Prompt: p, JSON: true}, valid)
}
