package stream_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/MegaGrindStone/mycochat/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	chunk models.Chunk
	err   error
}

// source replays steps and counts how many were pulled.
type source struct {
	steps  []step
	pulled int
}

func (s *source) seq() iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		for _, st := range s.steps {
			s.pulled++
			if !yield(st.chunk, st.err) {
				return
			}
		}
	}
}

func chunks(segments ...[]string) *source {
	src := &source{}
	for _, segs := range segments {
		c, err := models.ChunkFromSegments(segs...)
		src.steps = append(src.steps, step{chunk: c, err: err})
	}
	return src
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(src *source, logger *slog.Logger) []models.Entry {
	var entries []models.Entry
	for e := range stream.Reassemble(src.seq(), logger) {
		entries = append(entries, e)
	}
	return entries
}

func entry(phase models.Phase, content string) models.Entry {
	return models.Entry{Role: models.RoleAssistant, Phase: phase, Content: content}
}

func TestReassembleExample(t *testing.T) {
	src := chunks(
		[]string{"I "},
		[]string{"think "},
		[]string{"it's edible.", "Yes, it is edible."},
		[]string{"Confirmed."},
	)

	got := collect(src, discard())

	want := []models.Entry{
		entry(models.PhaseReasoning, "I "),
		entry(models.PhaseReasoning, "I think "),
		entry(models.PhaseReasoning, "I think it's edible."),
		entry(models.PhaseAnswer, "Yes, it is edible."),
		entry(models.PhaseAnswer, "Yes, it is edible.Confirmed."),
	}
	assert.Equal(t, want, got)
}

func TestReassembleReasoningOnly(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		n := 1 + rng.Intn(20)
		var segs [][]string
		var want strings.Builder
		for j := 0; j < n; j++ {
			text := fmt.Sprintf("s%d-%d ", i, rng.Intn(1000))
			segs = append(segs, []string{text})
			want.WriteString(text)
		}

		got := collect(chunks(segs...), discard())

		require.Len(t, got, n)
		for _, e := range got {
			assert.Equal(t, models.PhaseReasoning, e.Phase)
			assert.False(t, e.Notice)
		}
		assert.Equal(t, want.String(), got[len(got)-1].Content)
	}
}

func TestReassembleSingleTransition(t *testing.T) {
	for k := 0; k < 5; k++ {
		t.Run(fmt.Sprintf("boundary at %d", k), func(t *testing.T) {
			var segs [][]string
			for i := 0; i < 5; i++ {
				if i == k {
					segs = append(segs, []string{"r", "a"})
					continue
				}
				segs = append(segs, []string{"x"})
			}
			// A second boundary after the first must not open another phase.
			segs = append(segs, []string{"y", "z"})

			got := collect(chunks(segs...), discard())

			// Chunk k yields two entries, every other chunk yields one.
			require.Len(t, got, len(segs)+1)
			transitions := 0
			for i, e := range got {
				switch {
				case i < k:
					assert.Equal(t, models.PhaseReasoning, e.Phase, "entry %d", i)
				case i == k:
					assert.Equal(t, models.PhaseReasoning, e.Phase, "entry %d", i)
					assert.Equal(t, strings.Repeat("x", k)+"r", e.Content)
				default:
					assert.Equal(t, models.PhaseAnswer, e.Phase, "entry %d", i)
				}
				if i > 0 && got[i-1].Phase != e.Phase {
					transitions++
				}
			}
			assert.Equal(t, 1, transitions)
			assert.Equal(t, "a"+strings.Repeat("x", 4-k)+"y", got[len(got)-1].Content)
		})
	}
}

func TestReassembleDeterministic(t *testing.T) {
	segs := [][]string{{"a"}, {"b", "c"}, {"d"}, {"e", "f"}}

	var first stream.State
	for _, s := range segs {
		c, err := models.ChunkFromSegments(s...)
		require.NoError(t, err)
		first.Apply(c)
	}

	for i := 0; i < 3; i++ {
		var replay stream.State
		for _, s := range segs {
			c, _ := models.ChunkFromSegments(s...)
			replay.Apply(c)
		}
		assert.Equal(t, first, replay)
	}
	assert.Equal(t, stream.State{Reasoning: "ab", Answer: "cde", Crossed: true}, first)
}

func TestReassembleMalformedChunk(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	src := chunks(
		[]string{"I "},
		[]string{},
		[]string{"never seen"},
		[]string{"a", "b"},
	)

	got := collect(src, logger)

	require.Len(t, got, 2)
	assert.Equal(t, entry(models.PhaseReasoning, "I "), got[0])
	assert.Equal(t, models.NoticeEntry(), got[1])
	assert.Equal(t, 2, src.pulled, "source must not be pulled past the malformed chunk")
	assert.Contains(t, buf.String(), "malformed_chunk")
	assert.NotContains(t, got[1].Content, "malformed")
}

func TestReassembleSafetyFeedbackIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	src := &source{steps: []step{
		{err: &models.MalformedChunkError{Reason: "blocked", Feedback: "HARM_CATEGORY_DANGEROUS_CONTENT:HIGH"}},
	}}

	got := collect(src, logger)

	assert.Equal(t, []models.Entry{models.NoticeEntry()}, got)
	assert.Contains(t, buf.String(), "Safety filter triggered")
	assert.Contains(t, buf.String(), "HARM_CATEGORY_DANGEROUS_CONTENT")
}

func TestReassembleRemoteFailure(t *testing.T) {
	src := &source{steps: []step{
		{chunk: models.Single{Segment: "partial"}},
		{err: models.NewRemoteCallError("gemini", errors.New("unauthenticated"))},
		{chunk: models.Single{Segment: "late"}},
	}}

	got := collect(src, discard())

	require.Len(t, got, 2)
	assert.True(t, got[1].Notice)
	assert.Equal(t, 2, src.pulled)
}

func TestReassembleCanceled(t *testing.T) {
	src := &source{steps: []step{
		{chunk: models.Single{Segment: "a"}},
		{err: fmt.Errorf("receive: %w", context.Canceled)},
	}}

	got := collect(src, discard())

	assert.Equal(t, []models.Entry{entry(models.PhaseReasoning, "a")}, got)
}

func TestReassembleAbandoned(t *testing.T) {
	src := chunks([]string{"a"}, []string{"b", "c"}, []string{"d"})

	var got []models.Entry
	for e := range stream.Reassemble(src.seq(), discard()) {
		got = append(got, e)
		if e.Phase == models.PhaseReasoning && e.Content == "ab" {
			break
		}
	}

	assert.Len(t, got, 2)
	assert.Equal(t, 2, src.pulled)
}

func TestReassembleFreshStatePerTurn(t *testing.T) {
	failed := &source{steps: []step{{err: &models.MalformedChunkError{Reason: "empty"}}}}
	assert.Equal(t, []models.Entry{models.NoticeEntry()}, collect(failed, discard()))

	got := collect(chunks([]string{"new"}), discard())
	assert.Equal(t, []models.Entry{entry(models.PhaseReasoning, "new")}, got)
}
