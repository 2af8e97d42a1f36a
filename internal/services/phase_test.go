package services

import (
	"testing"

	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestPhaseSplitter(t *testing.T) {
	var p phaseSplitter

	_, ok := p.reasoning("")
	assert.False(t, ok)

	c, ok := p.reasoning("hmm")
	assert.True(t, ok)
	assert.Equal(t, models.Single{Segment: "hmm"}, c)

	c, ok = p.answer("Yes")
	assert.True(t, ok)
	assert.Equal(t, models.Boundary{Answer: "Yes"}, c)

	c, ok = p.answer(", it is.")
	assert.True(t, ok)
	assert.Equal(t, models.Single{Segment: ", it is."}, c)

	_, ok = p.reasoning("late thought")
	assert.False(t, ok, "reasoning after the answer opened is dropped")
}

func TestPhaseSplitterBoth(t *testing.T) {
	var p phaseSplitter

	c, ok := p.both("let me see", "")
	assert.True(t, ok)
	assert.Equal(t, models.Single{Segment: "let me see"}, c)

	c, ok = p.both(".", "A morel.")
	assert.True(t, ok)
	assert.Equal(t, models.Boundary{Reasoning: ".", Answer: "A morel."}, c)

	c, ok = p.both("ignored", " Cook it.")
	assert.True(t, ok)
	assert.Equal(t, models.Single{Segment: " Cook it."}, c)

	_, ok = p.both("", "")
	assert.False(t, ok)
}

func TestThinkSplitter(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
		flush  bool
		want   []models.Chunk
	}{
		{
			name:   "reasoning then answer",
			deltas: []string{"<think>", "Gills ", "are white.", "</think>\n\n", "Amanita."},
			want: []models.Chunk{
				models.Single{Segment: "Gills "},
				models.Single{Segment: "are white."},
				models.Boundary{Reasoning: "", Answer: ""},
				models.Single{Segment: "Amanita."},
			},
		},
		{
			name:   "close tag inside a delta",
			deltas: []string{"<think>hmm", " ok</think>\nIt is a ", "puffball."},
			want: []models.Chunk{
				models.Single{Segment: "hmm"},
				models.Boundary{Reasoning: " ok", Answer: "It is a "},
				models.Single{Segment: "puffball."},
			},
		},
		{
			name:   "tags split across deltas",
			deltas: []string{"<th", "ink>Spore", " print</th", "ink>\nA bolete."},
			want: []models.Chunk{
				models.Single{Segment: "Spore"},
				models.Single{Segment: " print"},
				models.Boundary{Reasoning: "", Answer: "A bolete."},
			},
		},
		{
			name:   "angle bracket inside reasoning",
			deltas: []string{"<think>a <", "b", "</think>ok"},
			want: []models.Chunk{
				models.Single{Segment: "a "},
				models.Single{Segment: "<b"},
				models.Boundary{Reasoning: "", Answer: "ok"},
			},
		},
		{
			name:   "answer starting with angle bracket",
			deltas: []string{"<", "3 boletes"},
			want: []models.Chunk{
				models.Boundary{Answer: "<3 boletes"},
			},
		},
		{
			name:   "reasoning ending in partial close tag",
			deltas: []string{"<think>Cap is re", "d</"},
			flush:  true,
			want: []models.Chunk{
				models.Single{Segment: "Cap is re"},
				models.Single{Segment: "d"},
				models.Single{Segment: "</"},
			},
		},
		{
			name:   "reply ending in partial open tag",
			deltas: []string{"\n", "<thi"},
			flush:  true,
			want: []models.Chunk{
				models.Boundary{Answer: "<thi"},
			},
		},
		{
			name:   "no reasoning",
			deltas: []string{"\n", "A bolete", "."},
			want: []models.Chunk{
				models.Boundary{Answer: "A bolete"},
				models.Single{Segment: "."},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s thinkSplitter
			var got []models.Chunk
			for _, d := range tt.deltas {
				if c, ok := s.split(d); ok {
					got = append(got, c)
				}
			}
			if tt.flush {
				if c, ok := s.flush(); ok {
					got = append(got, c)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
