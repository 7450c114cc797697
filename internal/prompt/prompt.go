// Package prompt renders the model prompts from the embedded prompts.yaml.
package prompt

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var builtin []byte

// Section is one block of a prompt. Text may contain {key} placeholders.
// Append names a data key whose value follows Text; when that value is
// empty the whole section is omitted. Format "fence" wraps the appended
// value in a code fence labelled with Name.
type Section struct {
	Name    string
	Text    string
	Append  string
	Format  string
	Heading string
}

type sectionDetail struct {
	Text    string `yaml:"text"`
	Append  string `yaml:"append"`
	Format  string `yaml:"format"`
	Heading string `yaml:"heading"`
}

// Def is an ordered list of sections. In YAML it is either a scalar (one
// unnamed text section) or a sequence of single-key mappings whose value is
// the text or a text/append/format/heading mapping.
type Def []Section

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Def) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*d = Def{{Text: value.Value}}
		return nil
	}
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("prompt definition must be a scalar or a sequence, got %v", value.Kind)
	}

	sections := make(Def, 0, len(value.Content))
	for i, item := range value.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) < 2 {
			return fmt.Errorf("section %d: expected a single-key mapping", i)
		}
		keyNode, valNode := item.Content[0], item.Content[1]

		sec := Section{Name: keyNode.Value}
		switch valNode.Kind {
		case yaml.ScalarNode:
			sec.Text = valNode.Value
		case yaml.MappingNode:
			var detail sectionDetail
			if err := valNode.Decode(&detail); err != nil {
				return fmt.Errorf("section %q: %w", sec.Name, err)
			}
			sec.Text, sec.Append, sec.Format, sec.Heading = detail.Text, detail.Append, detail.Format, detail.Heading
		default:
			return fmt.Errorf("section %q: unexpected YAML node kind %v", sec.Name, valNode.Kind)
		}
		sections = append(sections, sec)
	}
	*d = sections
	return nil
}

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// fill replaces each {key} of text in one pass. Substituted values are never
// rescanned and unknown keys stay literal.
func fill(text string, data map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		if v, ok := data[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// Render assembles the prompt. Placeholders are substituted in Text only,
// so appended user content containing braces is left untouched.
func (d Def) Render(data map[string]string) string {
	var parts []string
	for _, sec := range d {
		if sec.Append != "" && strings.TrimSpace(data[sec.Append]) == "" {
			continue
		}

		var b strings.Builder
		if sec.Heading != "" {
			b.WriteString(sec.Heading)
			b.WriteString("\n\n")
		}
		text := fill(strings.TrimSpace(sec.Text), data)
		b.WriteString(text)

		if sec.Append != "" {
			val := strings.TrimSpace(data[sec.Append])
			if text != "" {
				b.WriteString("\n")
			}
			if sec.Format == "fence" {
				b.WriteString("```" + sec.Name + "\n" + val + "\n```")
			} else {
				b.WriteString(val)
			}
		}

		if s := b.String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Library maps prompt names to definitions.
type Library map[string]Def

// Parse decodes a prompts document.
func Parse(data []byte) (Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("parsing prompts: %w", err)
	}
	return lib, nil
}

// Render renders the named prompt.
func (l Library) Render(name string, data map[string]string) (string, error) {
	def, ok := l[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	return def.Render(data), nil
}

// Names returns the prompt names in sorted order.
func (l Library) Names() []string {
	names := make([]string, 0, len(l))
	for n := range l {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	defaultOnce sync.Once
	defaultLib  Library
	defaultErr  error
)

// Default returns the embedded prompt library.
func Default() (Library, error) {
	defaultOnce.Do(func() {
		defaultLib, defaultErr = Parse(builtin)
	})
	return defaultLib, defaultErr
}

// MustRender renders a prompt from the embedded library. The embedded file is
// covered by tests, so a failure here is a programming error.
func MustRender(name string, data map[string]string) string {
	lib, err := Default()
	if err != nil {
		panic(err)
	}
	out, err := lib.Render(name, data)
	if err != nil {
		panic(err)
	}
	return out
}

// Bullets renders "- item" lines.
func Bullets(items []string) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(it)
	}
	return b.String()
}

// Named is a name with a description, rendered as "- name: description".
type Named struct {
	Name        string
	Description string
}

// NamedBullets renders "- name: description" lines.
func NamedBullets(items []Named) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = it.Name + ": " + it.Description
	}
	return Bullets(lines)
}
