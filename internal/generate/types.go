package generate

import (
	"maps"
	"slices"
	"strings"

	"github.com/kalambet/ideaboard/internal/prompt"
)

// Concept is one interpretation of the Parti.
type Concept struct {
	Concept     string `json:"concept"`
	Description string `json:"description"`
}

// Artifact is a moodboard entry. ImageURL is filled in once rendered.
type Artifact struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// Parameter is a design decision with its range of choices.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Design assigns a value to each parameter.
type Design struct {
	Name                 string            `json:"name"`
	ParameterAssignments map[string]string `json:"parameterAssignments"`
}

// Mockup is one rendered view of the unified design.
type Mockup struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// Bullet is one outline point as returned by the model.
type Bullet struct {
	BulletPoint string   `json:"bulletPoint"`
	Sources     []string `json:"sources"`
}

// Board is the accepted state every generation step builds on.
type Board struct {
	Parti      string
	Domain     string
	Concepts   []Concept
	Artifacts  []Artifact
	Parameters []Parameter
	Designs    []Design
}

// Avoid lists names the model should not repeat.
type Avoid struct {
	Existing []string
	Rejected []string
}

func conceptList(cs []Concept) string {
	named := make([]prompt.Named, len(cs))
	for i, c := range cs {
		named[i] = prompt.Named{Name: c.Concept, Description: c.Description}
	}
	return prompt.NamedBullets(named)
}

func artifactList(as []Artifact) string {
	named := make([]prompt.Named, len(as))
	for i, a := range as {
		named[i] = prompt.Named{Name: a.Name, Description: a.Description}
	}
	return prompt.NamedBullets(named)
}

func parameterList(ps []Parameter) string {
	named := make([]prompt.Named, len(ps))
	for i, p := range ps {
		named[i] = prompt.Named{Name: p.Name, Description: p.Description}
	}
	return prompt.NamedBullets(named)
}

// designList renders each design as a bold name followed by its
// assignments, sorted by parameter name.
func designList(ds []Design) string {
	blocks := make([]string, len(ds))
	for i, d := range ds {
		lines := []string{"**" + d.Name + "**"}
		for _, k := range slices.Sorted(maps.Keys(d.ParameterAssignments)) {
			lines = append(lines, "  - "+k+": "+d.ParameterAssignments[k])
		}
		blocks[i] = strings.Join(lines, "\n")
	}
	return strings.Join(blocks, "\n\n")
}
