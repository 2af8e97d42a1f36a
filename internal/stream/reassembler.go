// Package stream turns the chunks of a streamed model reply into transcript entry snapshots.
package stream

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/mycochat/internal/models"
)

// State holds the buffers of one reply. A zero State is ready for the first chunk.
type State struct {
	Reasoning string
	Answer    string
	Crossed   bool
}

// Apply folds one chunk into the state and returns the snapshots it produces. A Boundary closes the
// reasoning phase only once; after that every chunk, whatever its shape, extends the answer with its
// first segment.
func (s *State) Apply(c models.Chunk) []models.Entry {
	if b, ok := c.(models.Boundary); ok && !s.Crossed {
		s.Reasoning += b.Reasoning
		s.Answer = b.Answer
		s.Crossed = true
		return []models.Entry{s.snapshot(models.PhaseReasoning), s.snapshot(models.PhaseAnswer)}
	}

	if s.Crossed {
		s.Answer += c.Text()
		return []models.Entry{s.snapshot(models.PhaseAnswer)}
	}

	s.Reasoning += c.Text()
	return []models.Entry{s.snapshot(models.PhaseReasoning)}
}

func (s *State) snapshot(phase models.Phase) models.Entry {
	content := s.Reasoning
	if phase == models.PhaseAnswer {
		content = s.Answer
	}
	return models.Entry{
		Role:    models.RoleAssistant,
		Phase:   phase,
		Content: content,
	}
}

// Reassemble returns the lazy sequence of snapshots for the given chunk source. The source is pulled
// only as fast as the sequence is consumed, and the sequence ends when the source does.
//
// A source error ends the sequence with a single notice entry; its cause is written to logger and never
// to the transcript. A canceled context means nobody is listening anymore, so nothing is emitted.
func Reassemble(chunks iter.Seq2[models.Chunk, error], logger *slog.Logger) iter.Seq[models.Entry] {
	return func(yield func(models.Entry) bool) {
		var state State
		for chunk, err := range chunks {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logFailure(logger, err, state)
				yield(models.NoticeEntry())
				return
			}
			if chunk == nil {
				logFailure(logger, &models.MalformedChunkError{Reason: "nil chunk"}, state)
				yield(models.NoticeEntry())
				return
			}

			for _, e := range state.Apply(chunk) {
				if !yield(e) {
					return
				}
			}
		}
	}
}

func logFailure(logger *slog.Logger, err error, state State) {
	kind := "unknown"
	switch {
	case errors.Is(err, models.ErrMalformedChunk):
		kind = "malformed_chunk"
	case errors.Is(err, models.ErrRemoteCall):
		kind = "remote_call"
	}

	attrs := []any{
		slog.String("kind", kind),
		slog.Bool("crossed", state.Crossed),
		slog.Int("reasoningLen", len(state.Reasoning)),
		slog.Int("answerLen", len(state.Answer)),
		slog.String("err", err.Error()),
	}

	var mce *models.MalformedChunkError
	if errors.As(err, &mce) && mce.Feedback != "" {
		logger.Warn("Safety filter triggered", append(attrs, slog.String("feedback", mce.Feedback))...)
		return
	}
	logger.Error("Stream failed", attrs...)
}
