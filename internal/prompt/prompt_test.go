package prompt

import (
	"strings"
	"testing"
)

func TestDefault_AllPromptsParse(t *testing.T) {
	lib, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	for _, name := range []string{
		"concepts", "regenerate_concept", "concept_description",
		"artifacts", "artifact_description", "parameters", "parameter_description",
		"designs", "manual_design", "mockups",
		"outline", "outline_root", "outline_expand", "outline_question",
		"outline_gemini", "outline_gemini_system",
		"caption", "ping_openai", "ping_gemini", "ping_together",
	} {
		if _, ok := lib[name]; !ok {
			t.Errorf("prompt %q missing", name)
		}
	}
}

func TestRender_ArtifactsFirstBatch(t *testing.T) {
	out := MustRender("artifacts", map[string]string{
		"parti":    "A chair that floats",
		"concepts": NamedBullets([]Named{{"Weightlessness", "Absence of gravity"}}),
		"count":    "5",
	})

	for _, want := range []string{
		"Generate moodboard artifacts based on this Parti and concepts:",
		"```parti\nA chair that floats\n```",
		"```concepts\n- Weightlessness: Absence of gravity\n```",
		"Generate 5 diverse artifacts",
		`"artifacts": [`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered prompt missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "Existing artifacts") || strings.Contains(out, "Rejected artifacts") {
		t.Errorf("empty existing/rejected sections rendered:\n%s", out)
	}
}

func TestRender_ExistingAndRejected(t *testing.T) {
	out := MustRender("parameters", map[string]string{
		"parti":    "p",
		"domain":   "furniture",
		"existing": Bullets([]string{"Material"}),
		"rejected": Bullets([]string{"Color", "Size"}),
		"count":    "2",
	})
	if !strings.Contains(out, "Existing parameters (avoid repetition):\n- Material") {
		t.Errorf("existing block missing:\n%s", out)
	}
	if !strings.Contains(out, "Rejected parameters (do not suggest these):\n- Color\n- Size") {
		t.Errorf("rejected block missing:\n%s", out)
	}
	if !strings.Contains(out, "design parameters for furniture") {
		t.Errorf("domain not substituted:\n%s", out)
	}
	if strings.Contains(out, "{domain}") || strings.Contains(out, "{count}") {
		t.Errorf("placeholder left in output:\n%s", out)
	}
}

func TestRender_AppendedValuesNotSubstituted(t *testing.T) {
	def := Def{
		{Name: "task", Text: "Say {word}"},
		{Name: "content", Append: "content", Format: "fence"},
	}
	out := def.Render(map[string]string{"word": "hi", "content": "literal {word}"})
	want := "Say hi\n\n```content\nliteral {word}\n```"
	if out != want {
		t.Errorf("Render = %q, want %q", out, want)
	}
}

func TestRender_SubstitutedValuesNotRescanned(t *testing.T) {
	data := map[string]string{
		"instruction": "What is {context}? Mention {domain}.",
		"content":     "The moon has no air.",
		"context":     "SHOULD NOT APPEAR",
		"domain":      "furniture",
	}
	first := MustRender("outline", data)
	for i := 0; i < 50; i++ {
		if out := MustRender("outline", data); out != first {
			t.Fatalf("render %d differs:\n%s\n---\n%s", i, out, first)
		}
	}
	if !strings.HasPrefix(first, "What is {context}? Mention {domain}.") {
		t.Errorf("instruction was rewritten:\n%s", first)
	}
	if strings.Count(first, "SHOULD NOT APPEAR") != 1 {
		t.Errorf("context value leaked into the instruction:\n%s", first)
	}
}

func TestFill(t *testing.T) {
	tests := []struct {
		text string
		data map[string]string
		want string
	}{
		{"Say {word}", map[string]string{"word": "hi"}, "Say hi"},
		{"Say {missing}", map[string]string{"word": "hi"}, "Say {missing}"},
		{"{a}{b}", map[string]string{"a": "{b}", "b": "x"}, "{b}x"},
		{"{\n  \"json\": 1}", map[string]string{"json": "no"}, "{\n  \"json\": 1}"},
	}
	for _, tt := range tests {
		if got := fill(tt.text, tt.data); got != tt.want {
			t.Errorf("fill(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"mapping root":   "p:\n  a: b\n",
		"nested list":    "p:\n  - [a, b]\n",
		"not a document": "p: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLibrary_UnknownPrompt(t *testing.T) {
	lib, _ := Default()
	if _, err := lib.Render("nope", nil); err == nil {
		t.Error("expected error for unknown prompt")
	}
}

func TestBullets(t *testing.T) {
	if got := Bullets(nil); got != "" {
		t.Errorf("Bullets(nil) = %q", got)
	}
	if got := Bullets([]string{"a", "b"}); got != "- a\n- b" {
		t.Errorf("Bullets = %q", got)
	}
}
