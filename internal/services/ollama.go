package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the LLM interface for interacting with Ollama's language models.
// It manages connections to an Ollama server instance and handles streaming chat completions. Reasoning
// models served by Ollama inline their deliberation between <think> tags, which are split into phases.
type Ollama struct {
	model string

	client *api.Client

	logger *slog.Logger
}

const ollamaProvider = "ollama"

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server.
func NewOllama(host, model string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		model:  model,
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("module", ollamaProvider)),
	}, nil
}

func (o Ollama) chatRequest(req models.Request, stream bool) *api.ChatRequest {
	var msgs []api.Message
	if req.Config.SystemInstruction != "" {
		msgs = append(msgs, api.Message{
			Role:    "system",
			Content: req.Config.SystemInstruction,
		})
	}

	user := api.Message{
		Role:    "user",
		Content: req.Prompt,
	}
	if req.Image != nil {
		user.Images = []api.ImageData{req.Image.Data}
	}
	msgs = append(msgs, user)

	return &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Config.Temperature,
		},
	}
}

// Stream implements the LLM interface by streaming responses from the Ollama model. The context can be
// used to cancel the request; when the consumer stops pulling, the request is canceled too.
func (o Ollama) Stream(ctx context.Context, req models.Request) iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var splitter thinkSplitter
		stopped := false
		err := o.client.Chat(ctx, o.chatRequest(req, true), func(res api.ChatResponse) error {
			if stopped {
				return nil
			}
			chunk, ok := splitter.split(res.Message.Content)
			if !ok {
				return nil
			}
			if !yield(chunk, nil) {
				stopped = true
				cancel()
			}
			return nil
		})
		if stopped {
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(nil, models.NewRemoteCallError(ollamaProvider, fmt.Errorf("error sending request: %w", err)))
			return
		}
		if chunk, ok := splitter.flush(); ok {
			yield(chunk, nil)
		}
	}
}

// Generate sends a single non-streaming chat request and returns the reply. The <think> section of a
// reasoning model, if any, is dropped.
func (o Ollama) Generate(ctx context.Context, req models.Request) (string, error) {
	var reply string
	if err := o.client.Chat(ctx, o.chatRequest(req, false), func(res api.ChatResponse) error {
		reply += res.Message.Content
		return nil
	}); err != nil {
		return "", models.NewRemoteCallError(ollamaProvider, fmt.Errorf("error sending request: %w", err))
	}

	var splitter thinkSplitter
	chunk, ok := splitter.split(reply)
	if !ok {
		if chunk, ok = splitter.flush(); !ok {
			return "", nil
		}
	}
	if b, isBoundary := chunk.(models.Boundary); isBoundary {
		return b.Answer, nil
	}
	o.logger.Warn("Reply never closed its reasoning section", slog.Int("length", len(reply)))
	return "", nil
}
