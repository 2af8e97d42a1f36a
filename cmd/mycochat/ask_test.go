package main

import (
	"bytes"
	"context"
	"iter"
	"testing"

	"github.com/MegaGrindStone/mycochat/internal/assistant"
	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedResponder []models.Entry

func (s scriptedResponder) Respond(
	_ context.Context,
	turn assistant.Turn,
	transcript *models.Transcript,
) iter.Seq[models.Entry] {
	return func(yield func(models.Entry) bool) {
		transcript.AddUser(turn.Text, turn.Attachment)
		for _, e := range s {
			transcript.Upsert(e)
			if !yield(e) {
				return
			}
		}
	}
}

func TestAsk(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	r := scriptedResponder{
		{Role: models.RoleAssistant, Phase: models.PhaseReasoning, Content: "The cap is red"},
		{Role: models.RoleAssistant, Phase: models.PhaseReasoning, Content: "The cap is red with white warts"},
		{Role: models.RoleAssistant, Phase: models.PhaseAnswer, Content: "It is a"},
		{Role: models.RoleAssistant, Phase: models.PhaseAnswer, Content: "It is a fly agaric."},
	}

	var out bytes.Buffer
	require.NoError(t, ask(context.Background(), r, assistant.Turn{Text: "What is it?"}, &out))

	assert.Contains(t, out.String(), "Thinking")
	assert.Contains(t, out.String(), "The cap is red with white warts")
	assert.Contains(t, out.String(), "fly agaric.")
	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("The cap is red")))
}

func TestAskNotice(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var out bytes.Buffer
	require.NoError(t, ask(context.Background(), scriptedResponder{models.NoticeEntry()}, assistant.Turn{Text: "?"}, &out))

	assert.Contains(t, out.String(), models.NoticeText)
	assert.NotContains(t, out.String(), "Thinking")
}

func TestAskCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := ask(ctx, scriptedResponder{}, assistant.Turn{Text: "?"}, &out)

	assert.ErrorIs(t, err, context.Canceled)
}
