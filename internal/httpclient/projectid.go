package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/w154594742/Antigravity2Api/internal/config"
	"github.com/w154594742/Antigravity2Api/internal/errs"
	"github.com/w154594742/Antigravity2Api/internal/logging"
	"github.com/w154594742/Antigravity2Api/internal/ratelimiter"
)

// FetchProjectID discovers the backend project id for accessToken, trying
// every configured endpoint and, if none report a project, attempting
// onboarding. It retries up to maxAttempts times on transient failures with
// its own backoff and does not share the dispatcher's v1internal limiter
// unless one is explicitly passed.
func (c *Client) FetchProjectID(ctx context.Context, accessToken string, limiter *ratelimiter.RateLimiter, maxAttempts int) (string, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return "", errs.NewNetworkError(err)
			}
		}

		id, err := c.discoverProjectOnce(ctx, accessToken)
		if err == nil && id != "" {
			return id, nil
		}
		if err != nil {
			lastErr = err
		}

		if attempt < maxAttempts {
			backoff := time.Duration(500*attempt) * time.Millisecond
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return "", errs.NewNetworkError(ctx.Err())
			}
		}
	}

	c.log.Warn("project id discovery exhausted all attempts", logging.Fields{"attempts": maxAttempts, "error": errString(lastErr)})
	return "", errs.NewProjectIDUnresolvedError("unknown", maxAttempts)
}

func (c *Client) discoverProjectOnce(ctx context.Context, accessToken string) (string, error) {
	var loadCodeAssistBody []byte

	for _, endpoint := range config.ProjectIDDiscoveryEndpoints {
		body, err := c.loadCodeAssist(ctx, accessToken, endpoint)
		if err != nil {
			c.log.Warn("loadCodeAssist failed", logging.Fields{"endpoint": endpoint, "error": err.Error()})
			continue
		}

		if id := extractProjectID(body); id != "" {
			return id, nil
		}
		loadCodeAssistBody = body
		break
	}

	if loadCodeAssistBody == nil {
		return "", nil
	}

	tierID := gjson.GetBytes(loadCodeAssistBody, "currentTier.id").String()
	if tierID == "" {
		tierID = "FREE"
	}

	return c.onboardUser(ctx, accessToken, tierID)
}

func (c *Client) loadCodeAssist(ctx context.Context, accessToken, endpoint string) ([]byte, error) {
	reqBody := map[string]interface{}{
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}
	payload, _ := json.Marshal(reqBody)

	return c.postJSON(ctx, endpoint+"/v1internal:loadCodeAssist", accessToken, payload)
}

func (c *Client) onboardUser(ctx context.Context, accessToken, tierID string) (string, error) {
	reqBody := map[string]interface{}{
		"tierId": tierID,
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}
	payload, _ := json.Marshal(reqBody)

	for _, endpoint := range config.AntigravityEndpointFallbacks {
		body, err := c.postJSON(ctx, endpoint+"/v1internal:onboardUser", accessToken, payload)
		if err != nil {
			continue
		}
		if id := extractProjectID(body); id != "" {
			return id, nil
		}
	}
	return "", nil
}

func extractProjectID(body []byte) string {
	project := gjson.GetBytes(body, "cloudaicompanionProject")
	if project.Type == gjson.String {
		return project.String()
	}
	if id := project.Get("id"); id.Exists() {
		return id.String()
	}
	return ""
}

func (c *Client) postJSON(ctx context.Context, url, accessToken string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.NewNetworkError(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range config.AntigravityHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.NewNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewNetworkError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.NewUpstreamError(resp.StatusCode, nil, string(body))
	}
	return body, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
