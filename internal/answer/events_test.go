package answer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, line string) map[string]any {
	t.Helper()
	require.True(t, strings.HasPrefix(line, EventPrefix))
	require.True(t, strings.HasSuffix(line, "\n"))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(line, EventPrefix), "\n")), &out))
	return out
}

func TestEventsAreFlatAndSelfDescribing(t *testing.T) {
	got := decode(t, AnswerConfidence(0.87, "high").Encode())
	assert.Equal(t, "ANSWER_CONFIDENCE", got["type"])
	assert.Equal(t, 0.87, got["confidence"])
	assert.Equal(t, "high", got["level"])

	got = decode(t, ErrorEvent("Generation aborted").Encode())
	assert.Equal(t, "ERROR", got["type"])
	assert.Equal(t, "Generation aborted", got["message"])
}

func TestNetRateLimitedDefaultsRetry(t *testing.T) {
	got := decode(t, NetRateLimited(0, "groq").Encode())
	assert.Equal(t, float64(30), got["retryAfterSec"])
	assert.Equal(t, "groq", got["provider"])

	got = decode(t, NetRateLimited(7, "groq").Encode())
	assert.Equal(t, float64(7), got["retryAfterSec"])
}

func TestRequestMetadataFields(t *testing.T) {
	got := decode(t, RequestMetadata(FieldsForKeys([]string{"document_type", "revision_code"})).Encode())
	fields := got["fields"].([]any)
	require.Len(t, fields, 2)
	first := fields[0].(map[string]any)
	assert.Equal(t, "document_type", first["key"])
	assert.Equal(t, "Document Type", first["label"])
	assert.Equal(t, "Enter Document Type", first["placeholder"])
}

func TestProgressClamped(t *testing.T) {
	assert.Equal(t, float64(100), decode(t, Progress(140, "Embedding").Encode())["value"])
	assert.Equal(t, float64(0), decode(t, Progress(-3, "").Encode())["value"])
}

func TestSourcesNeverNull(t *testing.T) {
	got := decode(t, Sources(nil).Encode())
	assert.Equal(t, []any{}, got["data"])
}

func TestCleanOutput(t *testing.T) {
	assert.Equal(t, "Answer", CleanOutput("Answer<|eot_id|>tail"))
	assert.Equal(t, "A", CleanOutput(" A REFINED ANSWER: B <|end|>"))
	assert.Equal(t, "", CleanOutput("<|assistant|>"))
}

func TestMarkerCutterAcrossFragments(t *testing.T) {
	var c markerCutter
	out, stop := c.Feed("value is 5 <|eo")
	assert.Equal(t, "value is 5 ", out)
	assert.False(t, stop)
	out, stop = c.Feed("t_id|> more")
	assert.Equal(t, "", out)
	assert.True(t, stop)
	out, stop = c.Feed("later")
	assert.Equal(t, "", out)
	assert.True(t, stop)
}

func TestMarkerCutterReleasesFalseStart(t *testing.T) {
	var c markerCutter
	out, stop := c.Feed("a <|")
	assert.Equal(t, "a ", out)
	assert.False(t, stop)
	out, stop = c.Feed("x| b")
	assert.Equal(t, "<|x| b", out)
	assert.False(t, stop)

	out, _ = c.Feed("END")
	assert.Equal(t, "", out)
	assert.Equal(t, "END", c.Flush())
	assert.Equal(t, "", c.Flush())
}
