package assistant_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/MegaGrindStone/mycochat/internal/assistant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, "Question: hi\n\nHistory:\n", assistant.BuildPrompt("hi", ""))
	assert.Equal(t, "\n\nHistory:\nearlier", assistant.BuildPrompt("", "earlier"))
}

func TestIdentifyPromptSchema(t *testing.T) {
	prompt := assistant.IdentifyPrompt()

	idx := strings.Index(prompt, "{")
	require.Greater(t, idx, 0)

	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	require.NoError(t, json.Unmarshal([]byte(prompt[idx:]), &schema))

	for _, name := range []string{"common_name", "genus", "confidence", "visible", "color", "edible"} {
		assert.Contains(t, schema.Properties, name)
		assert.Contains(t, schema.Required, name)
	}
	assert.Len(t, schema.Properties, 6)
	assert.Contains(t, string(schema.Properties["visible"]), "hymenium")
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, assistant.StripFences("```json\n{\"a\":1}\n```\n"))
	assert.Equal(t, "plain", assistant.StripFences("plain"))
}
