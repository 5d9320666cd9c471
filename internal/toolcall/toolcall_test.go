package toolcall

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReActExtractPlainText(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "prose", text: "The weather in Paris is mild today."},
		{name: "empty", text: ""},
		{name: "mentions action casually", text: "Take action Input validation matters."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extraction, err := ReAct{}.Extract(tt.text)
			require.NoError(t, err)
			assert.Nil(t, extraction.Call)
			assert.Equal(t, tt.text, extraction.Text, "prose must pass through unchanged")
		})
	}
}

func TestReActExtractStructuredCall(t *testing.T) {
	text := "Action: get_weather\nAction Input: {\"location\": \"Paris\", \"unit\": \"celsius\"}"

	extraction, err := ReAct{}.Extract(text)
	require.NoError(t, err)
	require.NotNil(t, extraction.Call)

	assert.Equal(t, "get_weather", extraction.Call.Name)

	// Arguments must round-trip to the original JSON object.
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(extraction.Call.Arguments), &got))
	assert.Equal(t, map[string]any{"location": "Paris", "unit": "celsius"}, got)
	assert.Equal(t, "{\"location\": \"Paris\", \"unit\": \"celsius\"}", extraction.Call.Arguments)
}

func TestReActExtractMultilineArguments(t *testing.T) {
	text := "Action: search\nAction Input: {\n  \"query\": \"go concurrency\"\n}"

	extraction, err := ReAct{}.Extract(text)
	require.NoError(t, err)
	require.NotNil(t, extraction.Call)
	assert.Equal(t, "search", extraction.Call.Name)
}

func TestReActExtractMalformedArguments(t *testing.T) {
	text := "Action: get_weather\nAction Input: {location: Paris"

	_, err := ReAct{}.Extract(text)
	assert.ErrorIs(t, err, ErrInvalidToolOutput)
}
