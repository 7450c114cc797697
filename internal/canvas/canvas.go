// Package canvas holds the free-form image board: pasted and blended images
// with positions, z-order and captions.
package canvas

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ideaboard/internal/collection"
	"github.com/kalambet/ideaboard/internal/provider"
)

const (
	pasteSize   = 200
	pasteSpread = 400
)

// Image is one image on the canvas. Later images draw on top.
type Image struct {
	Src     string  `json:"src"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Caption string  `json:"caption,omitempty"`
}

// CaptionFunc describes the image at src.
type CaptionFunc func(ctx context.Context, src string) (string, error)

// Canvas is safe for concurrent use.
type Canvas struct {
	images *collection.Collection[Image]
	rand   func() float64
}

// New returns an empty canvas.
func New() *Canvas {
	return &Canvas{
		images: collection.New(func(i Image) string { return i.Caption }),
		rand:   rand.Float64,
	}
}

// Images exposes the underlying collection for snapshots and subscriptions.
func (c *Canvas) Images() *collection.Collection[Image] { return c.images }

// Paste adds src at a random position near the origin.
func (c *Canvas) Paste(src string) (collection.Entry[Image], error) {
	if strings.TrimSpace(src) == "" {
		return collection.Entry[Image]{}, fmt.Errorf("image source is empty")
	}
	return c.images.Append(Image{
		Src:    src,
		X:      c.rand() * pasteSpread,
		Y:      c.rand() * pasteSpread,
		Width:  pasteSize,
		Height: pasteSize,
	}), nil
}

// Move repositions an image and brings it to the front.
func (c *Canvas) Move(id string, x, y float64) error {
	if _, err := c.images.Edit(id, func(i *Image) { i.X, i.Y = x, y }); err != nil {
		return err
	}
	return c.images.MoveToEnd(id)
}

// Resize changes an image's size.
func (c *Canvas) Resize(id string, w, h float64) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("size must be positive")
	}
	_, err := c.images.Edit(id, func(i *Image) { i.Width, i.Height = w, h })
	return err
}

// Delete removes an image.
func (c *Canvas) Delete(id string) error {
	return c.images.Remove(id)
}

// Caption describes one image and stores the caption.
func (c *Canvas) Caption(ctx context.Context, describe CaptionFunc, id string) (string, error) {
	e, ok := c.images.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", collection.ErrNotFound, id)
	}
	caption, err := describe(ctx, e.Value.Src)
	if err != nil {
		return "", err
	}
	// The image may have been deleted while the caption was in flight.
	if _, err := c.images.Edit(id, func(i *Image) { i.Caption = caption }); err != nil {
		return "", err
	}
	return caption, nil
}

// CaptionAll captions every image that has none, four at a time. It returns
// the number of images captioned and the first error.
func (c *Canvas) CaptionAll(ctx context.Context, describe CaptionFunc) (int, error) {
	var pending []string
	for _, e := range c.images.Items() {
		if e.Value.Caption == "" {
			pending = append(pending, e.ID)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	done := make([]bool, len(pending))
	for i, id := range pending {
		g.Go(func() error {
			if _, err := c.Caption(gCtx, describe, id); err != nil {
				return fmt.Errorf("captioning %s: %w", id, err)
			}
			done[i] = true
			return nil
		})
	}
	err := g.Wait()

	n := 0
	for _, ok := range done {
		if ok {
			n++
		}
	}
	return n, err
}

// Blend combines the selected images per instruction and pastes the result.
func (c *Canvas) Blend(ctx context.Context, b provider.Blender, instruction string, ids []string) (collection.Entry[Image], error) {
	if strings.TrimSpace(instruction) == "" {
		return collection.Entry[Image]{}, fmt.Errorf("blend instruction is empty")
	}
	images := make([]provider.Image, 0, len(ids))
	for _, id := range ids {
		e, ok := c.images.Get(id)
		if !ok {
			return collection.Entry[Image]{}, fmt.Errorf("%w: %s", collection.ErrNotFound, id)
		}
		images = append(images, provider.Image{URL: e.Value.Src})
	}

	src, err := b.Blend(ctx, instruction, images)
	if err != nil {
		return collection.Entry[Image]{}, err
	}
	return c.Paste(src)
}
