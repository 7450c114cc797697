// Package gemini is a REST client for the Gemini generateContent API,
// covering structured JSON streaming and image blending.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/kalambet/ideaboard/internal/provider"
)

const name = "gemini"

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type generationConfig struct {
	ResponseMimeType   string          `json:"responseMimeType,omitempty"`
	ResponseSchema     json.RawMessage `json:"responseSchema,omitempty"`
	ResponseModalities []string        `json:"responseModalities,omitempty"`
	Temperature        *float64        `json:"temperature,omitempty"`
	MaxOutputTokens    int             `json:"maxOutputTokens,omitempty"`
	ThinkingConfig     *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      *content `json:"content"`
		FinishReason string   `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Client calls Gemini with the key current at call time.
type Client struct {
	key        func() string
	baseURL    string
	imageModel string
	transport  *provider.Transport
}

// New creates a Client. imageModel is used by Blend.
func New(key func() string, baseURL, imageModel string) *Client {
	return &Client{
		key:        key,
		baseURL:    strings.TrimRight(baseURL, "/"),
		imageModel: imageModel,
		transport:  provider.NewTransport(name),
	}
}

// Stream yields text deltas from streamGenerateContent. The system prompt
// is sent as a leading model turn and thinking is disabled.
func (c *Client) Stream(ctx context.Context, req provider.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		contents, err := buildContents(req)
		if err != nil {
			yield("", err)
			return
		}
		cfg := &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			ThinkingConfig:  &thinkingConfig{ThinkingBudget: 0},
		}
		if req.JSON || len(req.Schema) > 0 {
			cfg.ResponseMimeType = "application/json"
			cfg.ResponseSchema = req.Schema
		}

		for resp, err := range c.generate(ctx, req.Model, generateRequest{Contents: contents, GenerationConfig: cfg}) {
			if err != nil {
				yield("", err)
				return
			}
			for _, p := range candidateParts(resp) {
				if p.Thought || p.Text == "" {
					continue
				}
				if !yield(p.Text, nil) {
					return
				}
			}
		}
	}
}

// Complete concatenates a full Stream.
func (c *Client) Complete(ctx context.Context, req provider.Request) (string, error) {
	var b strings.Builder
	for delta, err := range c.Stream(ctx, req) {
		if err != nil {
			return "", err
		}
		b.WriteString(delta)
	}
	return strings.TrimSpace(b.String()), nil
}

// Blend asks the image model to combine images per instruction and returns
// the last image it produced as a data: URL.
func (c *Client) Blend(ctx context.Context, instruction string, images []provider.Image) (string, error) {
	parts := []part{{Text: instruction}}
	for _, img := range images {
		d, err := parseDataURL(img.URL)
		if err != nil {
			return "", err
		}
		parts = append(parts, part{InlineData: d})
	}

	body := generateRequest{
		Contents: []content{
			{Role: "model", Parts: []part{{Text: "Blend the images according to user provided instruction: " + instruction}}},
			{Role: "user", Parts: parts},
		},
		GenerationConfig: &generationConfig{ResponseModalities: []string{"IMAGE"}},
	}

	var imageURL string
	for resp, err := range c.generate(ctx, c.imageModel, body) {
		if err != nil {
			return "", err
		}
		for _, p := range candidateParts(resp) {
			if p.InlineData != nil && p.InlineData.Data != "" {
				imageURL = "data:" + p.InlineData.MimeType + ";base64," + p.InlineData.Data
			}
		}
	}
	if imageURL == "" {
		return "", &provider.DecodeError{Provider: name, Msg: "response contained no image"}
	}
	return imageURL, nil
}

// Ping sends a fixed prompt to model and returns the reply.
func (c *Client) Ping(ctx context.Context, model, prompt string) (string, error) {
	return c.Complete(ctx, provider.Request{Model: model, Prompt: prompt, MaxTokens: 16})
}

func (c *Client) generate(ctx context.Context, model string, body generateRequest) iter.Seq2[generateResponse, error] {
	return func(yield func(generateResponse, error) bool) {
		key := c.key()
		if key == "" {
			yield(generateResponse{}, provider.MissingKey(name))
			return
		}

		endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, url.PathEscape(model))
		rc, err := c.transport.PostJSON(ctx, endpoint, http.Header{"x-goog-api-key": {key}}, body, true)
		if err != nil {
			yield(generateResponse{}, err)
			return
		}
		defer rc.Close()

		for data, err := range provider.Events(rc) {
			if err != nil {
				yield(generateResponse{}, fmt.Errorf("%s: reading stream: %w", name, err))
				return
			}
			var resp generateResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				yield(generateResponse{}, &provider.DecodeError{Provider: name, Msg: "malformed stream chunk", Err: err})
				return
			}
			if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
				yield(generateResponse{}, &provider.DecodeError{Provider: name, Msg: "prompt blocked: " + resp.PromptFeedback.BlockReason})
				return
			}
			if !yield(resp, nil) {
				return
			}
		}
	}
}

// candidateParts returns the parts of the first candidate. Chunks carrying
// only usage metadata have none.
func candidateParts(resp generateResponse) []part {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	return resp.Candidates[0].Content.Parts
}

func buildContents(req provider.Request) ([]content, error) {
	var out []content
	if req.System != "" {
		out = append(out, content{Role: "model", Parts: []part{{Text: req.System}}})
	}
	for _, h := range req.History {
		role := "user"
		if h.Role == "assistant" {
			role = "model"
		}
		out = append(out, content{Role: role, Parts: []part{{Text: h.Content}}})
	}

	user := content{Role: "user"}
	if req.Prompt != "" {
		user.Parts = append(user.Parts, part{Text: req.Prompt})
	}
	for _, img := range req.Images {
		d, err := parseDataURL(img.URL)
		if err != nil {
			return nil, err
		}
		user.Parts = append(user.Parts, part{InlineData: d})
	}
	if len(user.Parts) > 0 {
		out = append(out, user)
	}
	return out, nil
}

// parseDataURL splits "data:<mime>;base64,<data>".
func parseDataURL(s string) (*inlineData, error) {
	header, data, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return nil, fmt.Errorf("%s: image must be a data URL", name)
	}
	mime, _, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
	if mime == "" {
		return nil, fmt.Errorf("%s: data URL has no mime type", name)
	}
	return &inlineData{MimeType: mime, Data: data}, nil
}
