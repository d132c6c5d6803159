package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/w154594742/Antigravity2Api/internal/logging"
)

func TestCallV1InternalReturnsRawResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1internal:generateContent", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := New(logging.Noop{})
	resp, err := c.CallV1Internal(context.Background(), "generateContent", "tok", []byte(`{}`), CallOptions{BaseURL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.Status)
	require.Contains(t, resp.BodyText, "rate limited")
}

func TestParseModelQuotasDegradesMissingFields(t *testing.T) {
	body := []byte(`{"models":{"gemini-3-pro":{"quotaInfo":{"remainingFraction":0.4,"resetTime":"2024-01-01T00:00:00Z"}},"claude-x":{}}}`)
	quotas := parseModelQuotas(body)

	require.Len(t, quotas, 2)
	require.NotNil(t, quotas["gemini-3-pro"].RemainingFraction)
	require.Equal(t, 0.4, *quotas["gemini-3-pro"].RemainingFraction)
	require.Nil(t, quotas["claude-x"].RemainingFraction)
	require.Nil(t, quotas["claude-x"].ResetTime)
}

func TestExtractProjectIDHandlesStringAndObjectShapes(t *testing.T) {
	require.Equal(t, "proj-a", extractProjectID([]byte(`{"cloudaicompanionProject":"proj-a"}`)))
	require.Equal(t, "proj-b", extractProjectID([]byte(`{"cloudaicompanionProject":{"id":"proj-b"}}`)))
	require.Equal(t, "", extractProjectID([]byte(`{}`)))
}
