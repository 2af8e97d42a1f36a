package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Gemini provides an implementation of the LLM interface for Google's Gemini models. Every streamed
// response is read as one chunk: its text parts are the chunk's segments.
type Gemini struct {
	model string

	client *genai.Client

	logger *slog.Logger
}

const geminiProvider = "gemini"

var harmCategories = map[string]genai.HarmCategory{
	"HARM_CATEGORY_HARASSMENT":        genai.HarmCategoryHarassment,
	"HARM_CATEGORY_HATE_SPEECH":       genai.HarmCategoryHateSpeech,
	"HARM_CATEGORY_SEXUALLY_EXPLICIT": genai.HarmCategorySexuallyExplicit,
	"HARM_CATEGORY_DANGEROUS_CONTENT": genai.HarmCategoryDangerousContent,
}

var harmThresholds = map[string]genai.HarmBlockThreshold{
	"BLOCK_LOW_AND_ABOVE":    genai.HarmBlockLowAndAbove,
	"BLOCK_MEDIUM_AND_ABOVE": genai.HarmBlockMediumAndAbove,
	"BLOCK_ONLY_HIGH":        genai.HarmBlockOnlyHigh,
	"BLOCK_NONE":             genai.HarmBlockNone,
}

// NewGemini creates a new Gemini instance with the specified API key and model name.
func NewGemini(ctx context.Context, apiKey, model string, logger *slog.Logger) (Gemini, error) {
	if apiKey == "" {
		return Gemini{}, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return Gemini{}, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return Gemini{
		model:  model,
		client: client,
		logger: logger.With(slog.String("module", geminiProvider)),
	}, nil
}

// ValidateSafety reports whether every category and threshold in safety is known.
func ValidateSafety(safety map[string]string) error {
	_, err := safetySettings(safety)
	return err
}

func safetySettings(safety map[string]string) ([]*genai.SafetySetting, error) {
	settings := make([]*genai.SafetySetting, 0, len(safety))
	for _, name := range slices.Sorted(maps.Keys(safety)) {
		category, ok := harmCategories[name]
		if !ok {
			return nil, fmt.Errorf("unknown harm category %q", name)
		}
		threshold, ok := harmThresholds[safety[name]]
		if !ok {
			return nil, fmt.Errorf("unknown threshold %q for %s", safety[name], name)
		}
		settings = append(settings, &genai.SafetySetting{
			Category:  category,
			Threshold: threshold,
		})
	}
	return settings, nil
}

func (g Gemini) generativeModel(cfg models.GenerateConfig) (*genai.GenerativeModel, error) {
	settings, err := safetySettings(cfg.Safety)
	if err != nil {
		return nil, err
	}

	m := g.client.GenerativeModel(g.model)
	if cfg.SystemInstruction != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(cfg.SystemInstruction)},
		}
	}
	m.SetTemperature(cfg.Temperature)
	m.SafetySettings = settings
	return m, nil
}

func geminiParts(req models.Request) []genai.Part {
	parts := []genai.Part{genai.Text(req.Prompt)}
	if req.Image != nil {
		format := strings.TrimPrefix(req.Image.MIMEType, "image/")
		parts = append(parts, genai.ImageData(format, req.Image.Data))
	}
	return parts
}

// Stream sends the request through the streaming endpoint and yields one chunk per response. A response
// blocked by a safety filter, or one that carries no text, is reported as a malformed chunk.
func (g Gemini) Stream(ctx context.Context, req models.Request) iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		m, err := g.generativeModel(req.Config)
		if err != nil {
			yield(nil, models.NewRemoteCallError(geminiProvider, err))
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		it := m.GenerateContentStream(ctx, geminiParts(req)...)
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(nil, geminiError(err))
				return
			}

			chunk, err := chunkFromResponse(resp)
			if err != nil {
				g.logger.Debug("Unreadable response", slog.String("response", fmt.Sprintf("%+v", resp)))
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

// Generate sends the request through the single-shot endpoint and returns the concatenated text of the
// first candidate.
func (g Gemini) Generate(ctx context.Context, req models.Request) (string, error) {
	m, err := g.generativeModel(req.Config)
	if err != nil {
		return "", models.NewRemoteCallError(geminiProvider, err)
	}

	resp, err := m.GenerateContent(ctx, geminiParts(req)...)
	if err != nil {
		return "", geminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &models.MalformedChunkError{Reason: "no candidate content", Feedback: responseFeedback(resp)}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

// Close releases the underlying client.
func (g Gemini) Close() error {
	return g.client.Close()
}

func geminiError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		feedback := promptFeedback(blocked.PromptFeedback)
		if blocked.Candidate != nil {
			feedback = joinFeedback(candidateFeedback(blocked.Candidate), feedback)
		}
		return &models.MalformedChunkError{Reason: "blocked", Feedback: feedback}
	}

	return models.NewRemoteCallError(geminiProvider, err)
}

func chunkFromResponse(resp *genai.GenerateContentResponse) (models.Chunk, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &models.MalformedChunkError{Reason: "no candidate content", Feedback: responseFeedback(resp)}
	}

	var segments []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			segments = append(segments, string(txt))
		}
	}

	chunk, err := models.ChunkFromSegments(segments...)
	if err != nil {
		return nil, &models.MalformedChunkError{Reason: "no text parts", Feedback: responseFeedback(resp)}
	}
	return chunk, nil
}

func responseFeedback(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var feedback string
	if len(resp.Candidates) > 0 {
		feedback = candidateFeedback(resp.Candidates[0])
	}
	feedback = joinFeedback(feedback, promptFeedback(resp.PromptFeedback))
	if resp.UsageMetadata != nil {
		feedback = joinFeedback(feedback, fmt.Sprintf("tokens=%d", resp.UsageMetadata.TotalTokenCount))
	}
	return feedback
}

func candidateFeedback(c *genai.Candidate) string {
	var parts []string
	if c.FinishReason != genai.FinishReasonUnspecified {
		parts = append(parts, "finish="+c.FinishReason.String())
	}
	if r := ratings(c.SafetyRatings); r != "" {
		parts = append(parts, "ratings="+r)
	}
	return strings.Join(parts, " ")
}

func promptFeedback(pf *genai.PromptFeedback) string {
	if pf == nil {
		return ""
	}
	var parts []string
	if pf.BlockReason != genai.BlockReasonUnspecified {
		parts = append(parts, "prompt_blocked="+pf.BlockReason.String())
	}
	if r := ratings(pf.SafetyRatings); r != "" {
		parts = append(parts, "prompt_ratings="+r)
	}
	return strings.Join(parts, " ")
}

func ratings(rs []*genai.SafetyRating) string {
	var parts []string
	for _, r := range rs {
		s := r.Category.String() + ":" + r.Probability.String()
		if r.Blocked {
			s += "(blocked)"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ",")
}

func joinFeedback(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
