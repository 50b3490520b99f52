package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObjectPlain(t *testing.T) {
	raw, err := ExtractJSONObject(`{"name": "Person", "confidence": 0.8}`)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, "Person", parsed["name"])
}

func TestExtractJSONObjectCodeFence(t *testing.T) {
	raw, err := ExtractJSONObject("```json\n{\"entities\": []}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"entities": []}`, string(raw))
}

func TestExtractJSONObjectSurroundingProse(t *testing.T) {
	raw, err := ExtractJSONObject(`Here is the analysis you asked for:

{"missing_entity_types": [{"name": "Meeting"}]}

Let me know if you need anything else.`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"missing_entity_types": [{"name": "Meeting"}]}`, string(raw))
}

func TestExtractJSONObjectNestedBraces(t *testing.T) {
	raw, err := ExtractJSONObject(`{"outer": {"inner": {"deep": 1}}} trailing junk`)
	require.NoError(t, err)
	assert.Equal(t, `{"outer": {"inner": {"deep": 1}}}`, string(raw))
}

func TestExtractJSONObjectBracesInStrings(t *testing.T) {
	raw, err := ExtractJSONObject(`{"pattern": "use {curly} braces", "quote": "she said \"}\" loudly"}`)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, "use {curly} braces", parsed["pattern"])
}

func TestExtractJSONObjectNoObject(t *testing.T) {
	_, err := ExtractJSONObject("I could not produce any structured output.")
	assert.Error(t, err)
}

func TestExtractJSONObjectUnterminated(t *testing.T) {
	_, err := ExtractJSONObject(`{"name": "Person"`)
	assert.Error(t, err)
}

func TestMockClientConsumesResponses(t *testing.T) {
	client := &MockClient{Response: "fallback", Responses: []string{"first", "second"}}
	ctx := context.Background()

	for _, want := range []string{"first", "second", "fallback"} {
		got, err := client.Complete(ctx, domain.CompletionRequest{Prompt: "hi"})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Len(t, client.Calls, 3)
}
