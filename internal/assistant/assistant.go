// Package assistant runs chat turns against a model provider: it builds the request for a turn, routes it
// to the streaming or the single-shot path and applies the resulting entries to the caller's transcript.
package assistant

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"math"
	"strings"

	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/MegaGrindStone/mycochat/internal/stream"
)

// LLM represents a large language model provider. Stream returns an iterator over the chunks of a
// streamed reply; Generate returns a complete reply.
type LLM interface {
	Stream(ctx context.Context, req models.Request) iter.Seq2[models.Chunk, error]
	Generate(ctx context.Context, req models.Request) (string, error)
}

// Options configures an Assistant. Zero fields fall back to the defaults of this package.
type Options struct {
	SystemPrompt string
	TitlePrompt  string
	Temperature  *float32
	Safety       map[string]string
}

// Turn is one user input: some text, an attachment path, or both. A nil Temperature uses the configured
// one.
type Turn struct {
	Text        string
	Attachment  string
	Temperature *float32
}

// Assistant runs turns. It holds no per-turn state, so one value may serve concurrent turns on different
// transcripts.
type Assistant struct {
	llm  LLM
	opts Options

	logger *slog.Logger
}

// DefaultTemperature is used when neither the options nor the turn set one.
const DefaultTemperature float32 = 0.7

// IdentifiedPrefix introduces the reply to an image-only turn.
const IdentifiedPrefix = "Noted. Ask away about it! \n"

// DefaultSafety blocks dangerous content from low probability upwards.
func DefaultSafety() map[string]string {
	return map[string]string{
		"HARM_CATEGORY_DANGEROUS_CONTENT": "BLOCK_LOW_AND_ABOVE",
	}
}

// New creates an Assistant backed by llm.
func New(llm LLM, opts Options, logger *slog.Logger) Assistant {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.TitlePrompt == "" {
		opts.TitlePrompt = DefaultTitlePrompt
	}
	if opts.Safety == nil {
		opts.Safety = DefaultSafety()
	}
	return Assistant{
		llm:    llm,
		opts:   opts,
		logger: logger.With(slog.String("module", "assistant")),
	}
}

func (a Assistant) config(instruction string, temperature *float32) models.GenerateConfig {
	t := DefaultTemperature
	for _, v := range []*float32{a.opts.Temperature, temperature} {
		if v != nil && !math.IsNaN(float64(*v)) {
			t = *v
		}
	}
	return models.GenerateConfig{
		SystemInstruction: instruction,
		Temperature:       min(max(t, 0), 1),
		Safety:            a.opts.Safety,
	}
}

// Respond runs turn against the transcript and returns the entries to display, in order. The user's
// message is appended to the transcript when the sequence is first pulled, and every entry is applied to
// the transcript before it is yielded. The transcript is not referenced once the sequence ends.
//
// A turn with an attachment and no text asks the model for a JSON identification of the picture in a
// single call. Any other turn streams the reply through the reassembler. Failures end the sequence with
// one notice entry.
func (a Assistant) Respond(ctx context.Context, turn Turn, transcript *models.Transcript) iter.Seq[models.Entry] {
	return func(yield func(models.Entry) bool) {
		transcript.AddUser(turn.Text, turn.Attachment)
		history := models.RenderHistory(transcript.History())

		emit := func(e models.Entry) bool {
			transcript.Upsert(e)
			return yield(e)
		}

		req := models.Request{
			Prompt: BuildPrompt(turn.Text, history),
			Config: a.config(a.opts.SystemPrompt, turn.Temperature),
		}
		if turn.Attachment != "" {
			img, err := LoadImage(turn.Attachment)
			if err != nil {
				a.logger.Error("Failed to load attachment",
					slog.String("attachment", turn.Attachment),
					slog.String("err", err.Error()))
				emit(models.NoticeEntry())
				return
			}
			req.Image = img
		}

		if req.Image != nil && turn.Text == "" {
			a.identify(ctx, req, transcript, yield)
			return
		}

		for e := range stream.Reassemble(a.llm.Stream(ctx, req), a.logger) {
			if !emit(e) {
				return
			}
		}
	}
}

func (a Assistant) identify(
	ctx context.Context,
	req models.Request,
	transcript *models.Transcript,
	yield func(models.Entry) bool,
) {
	req.Config.SystemInstruction = IdentifyPrompt()

	reply, err := a.llm.Generate(ctx, req)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = &models.MalformedChunkError{Reason: "empty identification reply"}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		a.logger.Error("Identification failed", slog.String("err", err.Error()))
		e := models.NoticeEntry()
		transcript.Upsert(e)
		yield(e)
		return
	}

	a.logger.Debug("Identification", slog.String("json", StripFences(reply)))

	// The transcript keeps the raw reply; only the displayed entry gets the lead-in.
	e := models.Entry{
		Role:    models.RoleAssistant,
		Phase:   models.PhaseAnswer,
		Content: reply,
	}
	transcript.Upsert(e)
	e.Content = IdentifiedPrefix + reply
	yield(e)
}

// Title asks the model for a short title of a chat opened with message.
func (a Assistant) Title(ctx context.Context, message string) (string, error) {
	title, err := a.llm.Generate(ctx, models.Request{
		Prompt: message,
		Config: a.config(a.opts.TitlePrompt, nil),
	})
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(title), `"`), nil
}
