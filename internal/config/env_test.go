package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseModelMapLowercasesAndTrims(t *testing.T) {
	raw := `{"Claude-3":"claude-sonnet-4-5", "  ":"x", "empty":"  ", "GEMINI-2": " gemini-3-flash "}`
	got := ParseModelMap(raw)
	require.Equal(t, map[string]string{
		"claude-3": "claude-sonnet-4-5",
		"gemini-2": "gemini-3-flash",
	}, got)
}

func TestParseModelMapInvalidJSONYieldsEmpty(t *testing.T) {
	require.Empty(t, ParseModelMap("not json"))
	require.Empty(t, ParseModelMap(""))
}

func TestClaudeModelMapMemoizesByRawValue(t *testing.T) {
	t.Setenv("AG2API_CLAUDE_MODEL_MAP", `{"a":"b"}`)
	first := ClaudeModelMap()
	require.Equal(t, map[string]string{"a": "b"}, first)

	t.Setenv("AG2API_CLAUDE_MODEL_MAP", `{"c":"d"}`)
	second := ClaudeModelMap()
	require.Equal(t, map[string]string{"c": "d"}, second)
}

func TestRetryDelayMsFallsBackOnInvalid(t *testing.T) {
	t.Setenv("AG2API_RETRY_DELAY_MS", "not-a-number")
	require.Equal(t, DefaultRetryDelayMs, RetryDelayMs())

	t.Setenv("AG2API_RETRY_DELAY_MS", "-5")
	require.Equal(t, DefaultRetryDelayMs, RetryDelayMs())

	t.Setenv("AG2API_RETRY_DELAY_MS", "2000")
	require.Equal(t, 2000, RetryDelayMs())
}

func TestGetModelFamily(t *testing.T) {
	require.Equal(t, ModelFamilyClaude, GetModelFamily("claude-opus-4-6-thinking"))
	require.Equal(t, ModelFamilyGemini, GetModelFamily("gemini-3-pro"))
	require.Equal(t, ModelFamilyGemini, GetModelFamily("some-unknown-model"))
}

func TestIsThinkingModel(t *testing.T) {
	require.True(t, IsThinkingModel("claude-opus-4-6-thinking"))
	require.False(t, IsThinkingModel("claude-sonnet-4-5"))
	require.True(t, IsThinkingModel("gemini-3-pro"))
	require.False(t, IsThinkingModel("gemini-2-flash"))
}
