// Package openai implements the text, vision and connection-test calls
// against the OpenAI chat completions API using the official SDK.
package openai

import (
	"context"
	"errors"
	"iter"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/kalambet/ideaboard/internal/provider"
)

const name = "openai"

// Client calls OpenAI with the key current at call time, so key edits take
// effect without rebuilding the client.
type Client struct {
	key     func() string
	baseURL string
	breaker *provider.Breaker
}

// New creates a Client. key is consulted on every call; an empty key fails
// with provider.ErrMissingKey before any request is made.
func New(key func() string, baseURL string) *Client {
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		key:     key,
		baseURL: baseURL,
		breaker: provider.NewBreaker(name),
	}
}

func (c *Client) sdk() (openai.Client, error) {
	key := c.key()
	if key == "" {
		return openai.Client{}, provider.MissingKey(name)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	return openai.NewClient(opts...), nil
}

func params(req provider.Request) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, h := range req.History {
		switch h.Role {
		case "assistant":
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(h.Content))
		default:
			msgs = append(msgs, openai.UserMessage(h.Content))
		}
	}
	if len(req.Images) > 0 {
		parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.Prompt)}
		for _, img := range req.Images {
			detail := img.Detail
			if detail == "" {
				detail = "auto"
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL:    img.URL,
				Detail: detail,
			}))
		}
		msgs = append(msgs, openai.UserMessage(parts))
	} else if req.Prompt != "" {
		msgs = append(msgs, openai.UserMessage(req.Prompt))
	}

	p := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.JSON {
		p.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if req.Temperature != nil {
		p.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		p.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	return p
}

// Stream yields content deltas of a streamed chat completion.
func (c *Client) Stream(ctx context.Context, req provider.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		cl, err := c.sdk()
		if err != nil {
			yield("", err)
			return
		}
		p := params(req)

		// Only the opening of the stream is retried; once deltas have been
		// handed out a retry would duplicate them.
		var stream *ssestream.Stream[openai.ChatCompletionChunk]
		err = c.breaker.Do(ctx, func() error {
			s := cl.Chat.Completions.NewStreaming(ctx, p)
			if s.Next() {
				stream = s
				return nil
			}
			err := s.Err()
			s.Close()
			return mapError(err)
		})
		if err != nil {
			yield("", err)
			return
		}
		if stream == nil {
			return
		}
		defer stream.Close()

		for {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !yield(chunk.Choices[0].Delta.Content, nil) {
					return
				}
			}
			if !stream.Next() {
				break
			}
		}
		if err := stream.Err(); err != nil {
			yield("", mapError(err))
		}
	}
}

// Complete returns the content of a non-streamed chat completion.
func (c *Client) Complete(ctx context.Context, req provider.Request) (string, error) {
	cl, err := c.sdk()
	if err != nil {
		return "", err
	}

	var resp *openai.ChatCompletion
	err = c.breaker.Do(ctx, func() error {
		var callErr error
		resp, callErr = cl.Chat.Completions.New(ctx, params(req))
		return mapError(callErr)
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &provider.DecodeError{Provider: name, Msg: "response has no choices"}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Caption describes an image in a short caption.
func (c *Client) Caption(ctx context.Context, model, prompt, imageURL string) (string, error) {
	text, err := c.Complete(ctx, provider.Request{
		Model:  model,
		Prompt: prompt,
		Images: []provider.Image{{URL: imageURL, Detail: "auto"}},
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", &provider.DecodeError{Provider: name, Msg: "empty caption"}
	}
	return text, nil
}

// Ping asks the model for a fixed reply and returns whatever it said.
func (c *Client) Ping(ctx context.Context, model, prompt string) (string, error) {
	return c.Complete(ctx, provider.Request{
		Model:     model,
		Prompt:    prompt,
		MaxTokens: 16,
	})
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &provider.StatusError{Provider: name, Code: apiErr.StatusCode, Body: apiErr.Message}
	}
	return err
}
