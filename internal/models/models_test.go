package models_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkFromSegments(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     models.Chunk
	}{
		{
			name:     "one segment",
			segments: []string{"I "},
			want:     models.Single{Segment: "I "},
		},
		{
			name:     "two segments",
			segments: []string{"it's edible.", "Yes, it is edible."},
			want:     models.Boundary{Reasoning: "it's edible.", Answer: "Yes, it is edible."},
		},
		{
			name:     "three segments keep the first",
			segments: []string{"a", "b", "c"},
			want:     models.Single{Segment: "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.ChunkFromSegments(tt.segments...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.segments[0], got.Text())
		})
	}

	t.Run("no segments", func(t *testing.T) {
		_, err := models.ChunkFromSegments()
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrMalformedChunk)
	})
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := fmt.Errorf("stream: %w", models.NewRemoteCallError("gemini", cause))

	assert.ErrorIs(t, err, models.ErrRemoteCall)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, models.ErrMalformedChunk)

	var rce *models.RemoteCallError
	require.ErrorAs(t, err, &rce)
	assert.Equal(t, "gemini", rce.Provider)

	mce := &models.MalformedChunkError{Reason: "blocked", Feedback: "SAFETY"}
	assert.ErrorIs(t, mce, models.ErrMalformedChunk)
	assert.Contains(t, mce.Error(), "SAFETY")
}

func TestTranscriptUpsert(t *testing.T) {
	prior := []models.Message{
		{Role: models.RoleUser, Content: "What is this?"},
		{Role: models.RoleAssistant, Phase: models.PhaseAnswer, Content: "A chanterelle."},
	}
	tr := models.NewTranscript(prior)
	tr.AddUser("Is it edible?", "")

	idx, appended := tr.Upsert(models.Entry{Role: models.RoleAssistant, Phase: models.PhaseAnswer, Content: "Yes"})
	assert.True(t, appended, "answer rows of previous turns must stay closed")
	assert.Equal(t, 3, idx)

	idx, appended = tr.Upsert(models.Entry{Role: models.RoleAssistant, Phase: models.PhaseAnswer, Content: "Yes, it is."})
	assert.False(t, appended)
	assert.Equal(t, 3, idx)

	idx, appended = tr.Upsert(models.NoticeEntry())
	assert.True(t, appended)
	assert.Equal(t, 4, idx)

	require.Len(t, tr.Messages, 5)
	assert.Equal(t, "Yes, it is.", tr.Messages[3].Content)
	assert.True(t, tr.Messages[4].Notice)
	assert.Len(t, tr.Turn(), 2)
	assert.Equal(t, prior, tr.History())
}

func TestTranscriptPhaseChange(t *testing.T) {
	tr := models.NewTranscript(nil)
	tr.AddUser("hi", "")

	tr.Upsert(models.Entry{Role: models.RoleAssistant, Phase: models.PhaseReasoning, Content: "I"})
	tr.Upsert(models.Entry{Role: models.RoleAssistant, Phase: models.PhaseReasoning, Content: "I think"})
	tr.Upsert(models.Entry{Role: models.RoleAssistant, Phase: models.PhaseAnswer, Content: "Hello"})

	turn := tr.Turn()
	require.Len(t, turn, 2)
	assert.Equal(t, models.PhaseReasoning, turn[0].Phase)
	assert.Equal(t, "I think", turn[0].Content)
	assert.Equal(t, models.PhaseAnswer, turn[1].Phase)
	assert.Empty(t, tr.History())
}

func TestRenderHistory(t *testing.T) {
	got := models.RenderHistory([]models.Message{
		{Content: "a "},
		{Content: "b"},
	})
	assert.Equal(t, "a b", got)
}
