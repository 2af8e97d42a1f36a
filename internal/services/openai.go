package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/mycochat/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the LLM interface for interacting with OpenAI's language models.
// The chat completion stream carries no separate reasoning channel, so every delta extends the answer.
type OpenAI struct {
	model string

	client *goopenai.Client

	logger *slog.Logger
}

const openAIProvider = "openai"

// NewOpenAI creates a new OpenAI instance with the specified API key and model name. A non-empty baseURL
// points the client at an OpenAI compatible endpoint.
func NewOpenAI(apiKey, baseURL, model string, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAI{
		model:  model,
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", openAIProvider)),
	}
}

func openAIMessages(req models.Request) []goopenai.ChatCompletionMessage {
	var msgs []goopenai.ChatCompletionMessage
	if req.Config.SystemInstruction != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.Config.SystemInstruction,
		})
	}

	if req.Image == nil {
		return append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", req.Image.MIMEType, base64.StdEncoding.EncodeToString(req.Image.Data))
	return append(msgs, goopenai.ChatCompletionMessage{
		Role: goopenai.ChatMessageRoleUser,
		MultiContent: []goopenai.ChatMessagePart{
			{
				Type: goopenai.ChatMessagePartTypeText,
				Text: req.Prompt,
			},
			{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: goopenai.ImageURLDetailAuto,
				},
			},
		},
	})
}

// Stream is a wrapper around the OpenAI chat completion stream.
func (o OpenAI) Stream(ctx context.Context, req models.Request) iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		creq := o.chatRequest(req, true)

		if o.logger.Enabled(ctx, slog.LevelDebug) {
			if reqJSON, err := json.Marshal(creq); err == nil {
				o.logger.Debug("Request", slog.Int("bytes", len(reqJSON)))
			}
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, creq)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(nil, models.NewRemoteCallError(openAIProvider, fmt.Errorf("error sending request: %w", err)))
			return
		}
		defer stream.Close()

		var splitter phaseSplitter
		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(nil, models.NewRemoteCallError(openAIProvider, fmt.Errorf("error receiving response: %w", err)))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			if choice.FinishReason == goopenai.FinishReasonContentFilter {
				yield(nil, &models.MalformedChunkError{
					Reason:   "content filtered",
					Feedback: "finish=" + string(choice.FinishReason),
				})
				return
			}

			chunk, ok := splitter.answer(choice.Delta.Content)
			if !ok {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Generate is a wrapper around the OpenAI chat completion API.
func (o OpenAI) Generate(ctx context.Context, req models.Request) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.chatRequest(req, false))
	if err != nil {
		return "", models.NewRemoteCallError(openAIProvider, fmt.Errorf("error sending request: %w", err))
	}

	if len(resp.Choices) == 0 {
		return "", &models.MalformedChunkError{Reason: "no choices found"}
	}

	return resp.Choices[0].Message.Content, nil
}

func (o OpenAI) chatRequest(req models.Request, stream bool) goopenai.ChatCompletionRequest {
	return goopenai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    openAIMessages(req),
		Stream:      stream,
		Temperature: req.Config.Temperature,
	}
}
