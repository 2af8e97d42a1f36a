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

// OpenRouter provides an implementation of the LLM interface for interacting with OpenRouter's language
// models. Reasoning models report their deliberation in a separate reasoning field of each delta.
type OpenRouter struct {
	apiKey   string
	model    string
	endpoint string

	client *http.Client

	logger *slog.Logger
}

type openRouterChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Temperature float32             `json:"temperature"`
	Stream      bool                `json:"stream"`
	Reasoning   *openRouterEffort   `json:"reasoning,omitempty"`
}

type openRouterEffort struct {
	Exclude bool `json:"exclude"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openRouterPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterDelta struct {
	Content   string `json:"content"`
	Reasoning string `json:"reasoning"`
}

type openRouterStreamingResponse struct {
	Choices []openRouterStreamingChoice `json:"choices"`
	Error   *openRouterError            `json:"error"`
}

type openRouterStreamingChoice struct {
	Delta        openRouterDelta `json:"delta"`
	FinishReason string          `json:"finish_reason"`
}

type openRouterResponse struct {
	Choices []openRouterChoice `json:"choices"`
}

type openRouterChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type openRouterError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	openRouterAPIEndpoint = "https://openrouter.ai/api/v1"
	openRouterProvider    = "openrouter"
)

// NewOpenRouter creates a new OpenRouter instance with the specified API key and model name. An empty
// endpoint selects the public API.
func NewOpenRouter(apiKey, endpoint, model string, logger *slog.Logger) OpenRouter {
	if endpoint == "" {
		endpoint = openRouterAPIEndpoint
	}
	return OpenRouter{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{},
		logger:   logger.With(slog.String("module", openRouterProvider)),
	}
}

// Stream streams responses from the OpenRouter API for a given request. The context can be used to cancel
// ongoing requests.
func (o OpenRouter) Stream(ctx context.Context, req models.Request) iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		resp, err := o.doRequest(ctx, req, true)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(nil, models.NewRemoteCallError(openRouterProvider, fmt.Errorf("error sending request: %w", err)))
			return
		}
		defer resp.Body.Close()

		var splitter phaseSplitter
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(nil, models.NewRemoteCallError(openRouterProvider, fmt.Errorf("error reading response: %w", err)))
				return
			}

			o.logger.Debug("Received event",
				slog.String("event", ev.Data),
			)

			if ev.Data == "[DONE]" {
				return
			}

			var res openRouterStreamingResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				yield(nil, &models.MalformedChunkError{Reason: fmt.Sprintf("error unmarshaling response: %v", err)})
				return
			}
			if res.Error != nil {
				yield(nil, models.NewRemoteCallError(openRouterProvider,
					fmt.Errorf("error %d: %s", res.Error.Code, res.Error.Message)))
				return
			}

			if len(res.Choices) == 0 {
				continue
			}
			choice := res.Choices[0]
			if choice.FinishReason == "content_filter" {
				yield(nil, &models.MalformedChunkError{Reason: "content filtered", Feedback: "finish=content_filter"})
				return
			}

			chunk, ok := splitter.both(choice.Delta.Reasoning, choice.Delta.Content)
			if !ok {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Generate sends a non-streaming request and returns the content of the first choice.
func (o OpenRouter) Generate(ctx context.Context, req models.Request) (string, error) {
	resp, err := o.doRequest(ctx, req, false)
	if err != nil {
		return "", models.NewRemoteCallError(openRouterProvider, fmt.Errorf("error sending request: %w", err))
	}
	defer resp.Body.Close()

	var res openRouterResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", models.NewRemoteCallError(openRouterProvider, fmt.Errorf("error decoding response: %w", err))
	}

	if len(res.Choices) == 0 {
		return "", &models.MalformedChunkError{Reason: "no choices found"}
	}
	if res.Choices[0].FinishReason == "content_filter" {
		return "", &models.MalformedChunkError{Reason: "content filtered", Feedback: "finish=content_filter"}
	}

	return res.Choices[0].Message.Content, nil
}

func (o OpenRouter) doRequest(ctx context.Context, req models.Request, stream bool) (*http.Response, error) {
	var msgs []openRouterMessage
	if req.Config.SystemInstruction != "" {
		msgs = append(msgs, openRouterMessage{
			Role:    "system",
			Content: req.Config.SystemInstruction,
		})
	}

	var user openRouterMessage
	if req.Image == nil {
		user = openRouterMessage{Role: "user", Content: req.Prompt}
	} else {
		dataURL := fmt.Sprintf("data:%s;base64,%s", req.Image.MIMEType, base64.StdEncoding.EncodeToString(req.Image.Data))
		user = openRouterMessage{
			Role: "user",
			Content: []openRouterPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &openRouterImageURL{URL: dataURL}},
			},
		}
	}
	msgs = append(msgs, user)

	reqBody := openRouterChatRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: req.Config.Temperature,
		Stream:      stream,
	}
	if !stream {
		reqBody.Reasoning = &openRouterEffort{Exclude: true}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	o.logger.Debug("Request Body", slog.Int("bytes", len(jsonBody)))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.endpoint+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("HTTP-Referer", "https://github.com/MegaGrindStone/mycochat/")
	httpReq.Header.Set("X-Title", "Mycochat")

	resp, err := o.client.Do(httpReq)
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
