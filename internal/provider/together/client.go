// Package together is a REST client for Together.ai image generation.
package together

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kalambet/ideaboard/internal/provider"
)

const (
	name         = "together"
	defaultSteps = 3
)

// ErrEmptyPrompt is returned before any request when the prompt is blank.
var ErrEmptyPrompt = provider.ErrEmptyPrompt

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Steps  int    `json:"steps"`
	N      int    `json:"n"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

// Client generates images with the key current at call time.
type Client struct {
	key       func() string
	baseURL   string
	model     string
	transport *provider.Transport
}

// New creates a Client. model is used when an ImageRequest names none.
func New(key func() string, baseURL, model string) *Client {
	return &Client{
		key:       key,
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		transport: provider.NewTransport(name),
	}
}

// GenerateImage creates one image. Base64 payloads come back as a PNG data
// URL, otherwise the hosted URL is returned.
func (c *Client) GenerateImage(ctx context.Context, req provider.ImageRequest) (provider.ImageResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return provider.ImageResult{}, ErrEmptyPrompt
	}
	key := c.key()
	if key == "" {
		return provider.ImageResult{}, provider.MissingKey(name)
	}

	body := imageRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Width:  req.Width,
		Height: req.Height,
		Steps:  req.Steps,
		N:      1,
	}
	if body.Model == "" {
		body.Model = c.model
	}
	if body.Steps <= 0 {
		body.Steps = defaultSteps
	}

	rc, err := c.transport.PostJSON(ctx, c.baseURL+"/images/generations", bearer(key), body, false)
	if err != nil {
		return provider.ImageResult{}, err
	}
	defer rc.Close()

	var resp imageResponse
	if err := json.NewDecoder(rc).Decode(&resp); err != nil {
		return provider.ImageResult{}, &provider.DecodeError{Provider: name, Msg: "malformed response", Err: err}
	}
	if len(resp.Data) == 0 {
		return provider.ImageResult{}, &provider.DecodeError{Provider: name, Msg: "no image data received"}
	}

	img := resp.Data[0]
	switch {
	case img.B64JSON != "":
		return provider.ImageResult{URL: "data:image/png;base64," + img.B64JSON}, nil
	case img.URL != "":
		return provider.ImageResult{URL: img.URL}, nil
	default:
		return provider.ImageResult{}, &provider.DecodeError{Provider: name, Msg: "no valid image data received"}
	}
}

func bearer(key string) http.Header {
	return http.Header{"Authorization": {"Bearer " + key}}
}
