// Package provider defines the contract between ideaboard and the hosted
// model APIs it delegates to, plus the HTTP plumbing the REST clients share.
package provider

import (
	"context"
	"encoding/json"
	"iter"
)

// Message is one turn of a few-shot or chat history.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Image is an image input. URL may be an https URL or a data: URL.
type Image struct {
	URL    string
	Detail string
}

// Request is a provider-neutral text generation request.
type Request struct {
	Model string
	// System is sent as the developer/system instruction.
	System string
	// History is replayed between System and Prompt.
	History []Message
	Prompt  string
	Images  []Image
	// JSON asks for a JSON object response.
	JSON bool
	// Schema, when set, constrains the response (Gemini responseSchema).
	Schema      json.RawMessage
	Temperature *float64
	MaxTokens   int
}

// TextStreamer streams text deltas for a request. The sequence ends after the
// first error.
type TextStreamer interface {
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Completer returns the full response text for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ImageRequest describes one image to synthesize.
type ImageRequest struct {
	Prompt string
	Model  string
	Width  int
	Height int
	Steps  int
}

// ImageResult holds a generated image as an https URL or a data: URL.
type ImageResult struct {
	URL string
}

// ImageGenerator produces an image from a text prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error)
}

// Blender combines images according to an instruction and returns the result
// as a data: URL.
type Blender interface {
	Blend(ctx context.Context, instruction string, images []Image) (string, error)
}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 { return &v }
