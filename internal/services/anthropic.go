package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Anthropic provides an interface to the Anthropic API for large language model interactions. It implements
// the LLM interface and handles streaming chat completions using Claude models. When a thinking budget is
// set, thinking deltas feed the reasoning phase and the first text delta opens the answer phase.
type Anthropic struct {
	apiKey         string
	model          string
	maxTokens      int
	thinkingBudget int
	endpoint       string

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		Thinking   string `json:"thinking"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
	anthropicProvider    = "anthropic"
)

// NewAnthropic creates a new Anthropic instance with the specified API key, model name, and maximum
// token limit. A positive thinkingBudget enables extended thinking with that many tokens. An empty
// endpoint selects the public API.
func NewAnthropic(apiKey, endpoint, model string, maxTokens, thinkingBudget int, logger *slog.Logger) Anthropic {
	if endpoint == "" {
		endpoint = anthropicAPIEndpoint
	}
	return Anthropic{
		apiKey:         apiKey,
		model:          model,
		maxTokens:      maxTokens,
		thinkingBudget: thinkingBudget,
		endpoint:       strings.TrimSuffix(endpoint, "/"),
		client:         &http.Client{},
		logger:         logger.With(slog.String("module", anthropicProvider)),
	}
}

// Stream streams responses from the Anthropic API for a given request. The context can be used to cancel
// ongoing requests.
func (a Anthropic) Stream(ctx context.Context, req models.Request) iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		resp, err := a.doRequest(ctx, req, true)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(nil, models.NewRemoteCallError(anthropicProvider, err))
			return
		}
		defer resp.Body.Close()

		var splitter phaseSplitter
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(nil, models.NewRemoteCallError(anthropicProvider, fmt.Errorf("error reading response: %w", err)))
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield(nil, models.NewRemoteCallError(anthropicProvider, fmt.Errorf("error unmarshaling error: %w", err)))
					return
				}
				yield(nil, models.NewRemoteCallError(anthropicProvider, fmt.Errorf("%s: %s", e.Error.Type, e.Error.Message)))
				return
			case "message_stop":
				return
			case "message_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield(nil, &models.MalformedChunkError{Reason: err.Error()})
					return
				}
				if res.Delta.StopReason == "refusal" {
					yield(nil, &models.MalformedChunkError{Reason: "refused", Feedback: "stop_reason=refusal"})
					return
				}
			case "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield(nil, &models.MalformedChunkError{Reason: err.Error()})
					return
				}

				var (
					chunk models.Chunk
					ok    bool
				)
				switch res.Delta.Type {
				case "thinking_delta":
					chunk, ok = splitter.reasoning(res.Delta.Thinking)
				case "text_delta":
					chunk, ok = splitter.answer(res.Delta.Text)
				}
				if !ok {
					continue
				}
				if !yield(chunk, nil) {
					return
				}
			default:
				continue
			}
		}

		if ctx.Err() != nil {
			return
		}
		yield(nil, models.NewRemoteCallError(anthropicProvider, errors.New("stream ended before message_stop")))
	}
}

// Generate sends a non-streaming request and returns the text blocks of the reply.
func (a Anthropic) Generate(ctx context.Context, req models.Request) (string, error) {
	resp, err := a.doRequest(ctx, req, false)
	if err != nil {
		return "", models.NewRemoteCallError(anthropicProvider, err)
	}
	defer resp.Body.Close()

	var res anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", models.NewRemoteCallError(anthropicProvider, fmt.Errorf("error decoding response: %w", err))
	}
	if res.StopReason == "refusal" {
		return "", &models.MalformedChunkError{Reason: "refused", Feedback: "stop_reason=refusal"}
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return sb.String(), nil
}

func (a Anthropic) doRequest(ctx context.Context, req models.Request, stream bool) (*http.Response, error) {
	content := []anthropicContent{
		{
			Type: "text",
			Text: req.Prompt,
		},
	}
	if req.Image != nil {
		content = append(content, anthropicContent{
			Type: "image",
			Source: &anthropicImageSource{
				Type:      "base64",
				MediaType: req.Image.MIMEType,
				Data:      base64.StdEncoding.EncodeToString(req.Image.Data),
			},
		})
	}

	reqBody := anthropicChatRequest{
		Model: a.model,
		Messages: []anthropicMessage{
			{
				Role:    "user",
				Content: content,
			},
		},
		Stream:    stream,
		System:    req.Config.SystemInstruction,
		MaxTokens: a.maxTokens,
	}
	if a.thinkingBudget > 0 {
		// Extended thinking only accepts the default temperature.
		reqBody.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: a.thinkingBudget}
	} else {
		temperature := req.Config.Temperature
		reqBody.Temperature = &temperature
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/messages", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}
