// Package outline keeps a tree of cited bullet points distilled from a
// source document, grown by expanding bullets and asking questions.
package outline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kalambet/ideaboard/internal/generate"
)

// ErrNotFound is returned for an unknown item id.
var ErrNotFound = errors.New("outline item not found")

// Source records how an item came to be.
type Source string

const (
	SourceGeneration Source = "generation"
	SourceQuestion   Source = "question"
)

// Item is one bullet. Citations holds the source quotes the model cited;
// CitationIDs references them in the tree's citation map.
type Item struct {
	ID          string   `json:"id"`
	BulletPoint string   `json:"bulletPoint"`
	Children    []*Item  `json:"children"`
	Citations   []string `json:"citations"`
	CitationIDs []string `json:"citationIds,omitempty"`
	Expanded    bool     `json:"isExpanded"`
	Source      Source   `json:"source"`
}

// Snapshot is a detached copy of a tree.
type Snapshot struct {
	Content   string            `json:"content"`
	Items     []*Item           `json:"items"`
	Citations map[string]string `json:"citations"`
}

// Streamer produces bullets for an outline request.
type Streamer interface {
	Outline(ctx context.Context, r generate.OutlineRequest) iter.Seq2[generate.Bullet, error]
}

// Tree is safe for concurrent use.
type Tree struct {
	mu        sync.Mutex
	content   string
	items     []*Item
	citations map[string]string
	onChange  func()
}

// New returns an empty tree over content.
func New(content string) *Tree {
	return &Tree{content: content, citations: make(map[string]string)}
}

// OnChange registers fn to run after every mutation, outside the lock.
func (t *Tree) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Tree) changed() {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Content returns the document being outlined.
func (t *Tree) Content() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.content
}

// Reset replaces the document and discards the tree.
func (t *Tree) Reset(content string) {
	t.mu.Lock()
	t.content = content
	t.items = nil
	t.citations = make(map[string]string)
	t.mu.Unlock()
	t.changed()
}

// Find returns a copy of the item with id.
func (t *Tree) Find(id string) (Item, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, _ := find(t.items, id, nil)
	if it == nil {
		return Item{}, false
	}
	return *clone(it), true
}

// Add appends a generated bullet under parentID, or at the root when
// parentID is empty. Each cited source is registered in the citation map.
func (t *Tree) Add(parentID string, b generate.Bullet) (Item, error) {
	return t.add(parentID, b.BulletPoint, b.Sources, SourceGeneration)
}

// AddQuestion appends a question bullet under parentID.
func (t *Tree) AddQuestion(parentID, question string) (Item, error) {
	return t.add(parentID, question, nil, SourceQuestion)
}

func (t *Tree) add(parentID, text string, sources []string, src Source) (Item, error) {
	t.mu.Lock()
	it := &Item{
		ID:          uuid.NewString(),
		BulletPoint: text,
		Children:    []*Item{},
		Citations:   append([]string{}, sources...),
		Source:      src,
	}
	for _, s := range sources {
		cid := uuid.NewString()
		t.citations[cid] = s
		it.CitationIDs = append(it.CitationIDs, cid)
	}

	if parentID == "" {
		t.items = append(t.items, it)
	} else {
		parent, _ := find(t.items, parentID, nil)
		if parent == nil {
			t.mu.Unlock()
			return Item{}, fmt.Errorf("%w: %s", ErrNotFound, parentID)
		}
		parent.Children = append(parent.Children, it)
		parent.Expanded = true
	}
	out := *clone(it)
	t.mu.Unlock()
	t.changed()
	return out, nil
}

// SetExpanded toggles whether an item's children are shown.
func (t *Tree) SetExpanded(id string, expanded bool) error {
	t.mu.Lock()
	it, _ := find(t.items, id, nil)
	if it == nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	it.Expanded = expanded
	t.mu.Unlock()
	t.changed()
	return nil
}

// Delete removes an item and its subtree.
func (t *Tree) Delete(id string) error {
	t.mu.Lock()
	ok := remove(&t.items, id)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.changed()
	return nil
}

// ParentContext describes where the item with id sits in the tree, so an
// expansion stays on topic.
func (t *Tree) ParentContext(id string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ancestors := find(t.items, id, nil)
	if target == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if len(ancestors) == 0 {
		return "The user is focusing on the following bullet point:\n" +
			"- " + target.BulletPoint + "\n\n" +
			"Please only generate relevant points that explains, expands, contrasts, contextualizes the point. If none available, respond empty array.", nil
	}

	lines := []string{"The user is focusing on the following context:"}
	if target.Source == SourceQuestion {
		lines[0] = "The user is asking a question in the following context:"
	}
	for i, a := range ancestors {
		lines = append(lines, strings.Repeat("  ", i)+"- "+a.BulletPoint)
	}
	lines = append(lines, strings.Repeat("  ", len(ancestors))+"- "+target.BulletPoint)
	lines = append(lines, "")
	lines = append(lines, "Please only generate relevant points that explains, expands, contrasts, contextualizes the deepest point. If none available, respond empty array.")
	return strings.Join(lines, "\n"), nil
}

// Generate outlines the whole document, appending root bullets as they
// stream in. Bullets already added stay if the stream fails.
func (t *Tree) Generate(ctx context.Context, s Streamer, provider string) (int, error) {
	return t.stream(ctx, s, "", generate.OutlineRequest{Content: t.Content(), Provider: provider})
}

// Expand streams children for the item with id.
func (t *Tree) Expand(ctx context.Context, s Streamer, id, provider string) (int, error) {
	it, ok := t.Find(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	pc, err := t.ParentContext(id)
	if err != nil {
		return 0, err
	}
	return t.stream(ctx, s, id, generate.OutlineRequest{
		Content:  t.Content(),
		Bullet:   it.BulletPoint,
		Question: it.Source == SourceQuestion,
		Context:  pc,
		Provider: provider,
	})
}

// Ask adds question as a child of the item with id and streams its answer
// beneath it. It returns the question item.
func (t *Tree) Ask(ctx context.Context, s Streamer, id, question, provider string) (Item, int, error) {
	q, err := t.AddQuestion(id, question)
	if err != nil {
		return Item{}, 0, err
	}
	n, err := t.Expand(ctx, s, q.ID, provider)
	return q, n, err
}

func (t *Tree) stream(ctx context.Context, s Streamer, parentID string, r generate.OutlineRequest) (int, error) {
	n := 0
	for b, err := range s.Outline(ctx, r) {
		if err != nil {
			return n, err
		}
		if _, err := t.Add(parentID, b); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Snapshot returns a deep copy of the tree.
func (t *Tree) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		Content:   t.content,
		Items:     make([]*Item, len(t.items)),
		Citations: make(map[string]string, len(t.citations)),
	}
	for i, it := range t.items {
		snap.Items[i] = clone(it)
	}
	for k, v := range t.citations {
		snap.Citations[k] = v
	}
	return snap
}

// Load replaces the tree with snap.
func (t *Tree) Load(snap Snapshot) {
	t.mu.Lock()
	t.content = snap.Content
	t.items = make([]*Item, len(snap.Items))
	for i, it := range snap.Items {
		t.items[i] = clone(it)
	}
	t.citations = make(map[string]string, len(snap.Citations))
	for k, v := range snap.Citations {
		t.citations[k] = v
	}
	t.mu.Unlock()
}

// find returns the item with id and its ancestors, outermost first.
func find(items []*Item, id string, path []*Item) (*Item, []*Item) {
	for _, it := range items {
		if it.ID == id {
			return it, path
		}
		if found, anc := find(it.Children, id, append(path[:len(path):len(path)], it)); found != nil {
			return found, anc
		}
	}
	return nil, nil
}

func remove(items *[]*Item, id string) bool {
	for i, it := range *items {
		if it.ID == id {
			*items = append((*items)[:i], (*items)[i+1:]...)
			return true
		}
		if remove(&it.Children, id) {
			return true
		}
	}
	return false
}

func clone(it *Item) *Item {
	c := *it
	c.Citations = append([]string{}, it.Citations...)
	c.CitationIDs = append([]string(nil), it.CitationIDs...)
	c.Children = make([]*Item, len(it.Children))
	for i, ch := range it.Children {
		c.Children[i] = clone(ch)
	}
	return &c
}
