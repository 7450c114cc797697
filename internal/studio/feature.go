package studio

import (
	"encoding/json"
	"fmt"

	"github.com/kalambet/ideaboard/internal/collection"
)

// Feature names one generated board.
type Feature string

const (
	FeatureConcepts   Feature = "concepts"
	FeatureArtifacts  Feature = "artifacts"
	FeatureParameters Feature = "parameters"
	FeatureDesigns    Feature = "designs"
	FeatureMockups    Feature = "mockups"

	// FeatureOutline is only a generation slot; it has no item list.
	FeatureOutline Feature = "outline"
)

// Features lists the boards in pipeline order.
var Features = []Feature{FeatureConcepts, FeatureArtifacts, FeatureParameters, FeatureDesigns, FeatureMockups}

// ParseFeature validates a board name.
func ParseFeature(s string) (Feature, error) {
	for _, f := range Features {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFeature, s)
}

// Renderable reports whether items of f carry an image.
func (f Feature) Renderable() bool {
	return f == FeatureArtifacts || f == FeatureMockups
}

// Items is the feature-independent view of one board.
type Items interface {
	Pin(id string, pinned bool) error
	TogglePin(id string) (bool, error)
	Reject(id string) error
	RejectUnpinned() int
	ClearRejected() int
	Revert(id string) error
	RestoreItem(id string) error
	Remove(id string) error
	Patch(id string, patch json.RawMessage) error
	Len() int
	State() any
}

type list[T any] struct {
	*collection.Collection[T]
}

func (l list[T]) RestoreItem(id string) error {
	_, err := l.Restore(id)
	return err
}

// Patch merges a JSON object into the item's value. The value is detached
// through a JSON round trip first so maps are never shared with snapshots.
func (l list[T]) Patch(id string, patch json.RawMessage) error {
	e, ok := l.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", collection.ErrNotFound, id)
	}
	data, err := json.Marshal(e.Value)
	if err != nil {
		return err
	}
	var fresh T
	if err := json.Unmarshal(data, &fresh); err != nil {
		return err
	}
	if err := json.Unmarshal(patch, &fresh); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	_, err = l.Edit(id, func(v *T) { *v = fresh })
	return err
}

func (l list[T]) State() any {
	return l.Snapshot()
}
