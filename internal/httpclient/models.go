package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/w154594742/Antigravity2Api/internal/config"
	"github.com/w154594742/Antigravity2Api/internal/errs"
	"github.com/w154594742/Antigravity2Api/internal/logging"
	"github.com/w154594742/Antigravity2Api/internal/ratelimiter"
)

// ModelQuota is the quota observation for one model, as reported by
// fetchAvailableModels. RemainingFraction/ResetTime are nil when the
// upstream omitted them: they degrade to "unknown", never an error.
type ModelQuota struct {
	RemainingFraction *float64
	ResetTime         *string
}

// FetchAvailableModels is the canonical source of per-model quota
// observations, trying every configured endpoint in order.
func (c *Client) FetchAvailableModels(ctx context.Context, accessToken, projectID string, limiter *ratelimiter.RateLimiter) (map[string]ModelQuota, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, errs.NewNetworkError(err)
		}
	}

	body := map[string]string{}
	if projectID != "" {
		body["project"] = projectID
	}
	payload, _ := json.Marshal(body)

	var lastErr error
	for _, endpoint := range config.AntigravityEndpointFallbacks {
		respBody, err := c.postJSON(ctx, endpoint+"/v1internal:fetchAvailableModels", accessToken, payload)
		if err != nil {
			lastErr = err
			c.log.Warn("fetchAvailableModels failed", logging.Fields{"endpoint": endpoint, "error": err.Error()})
			continue
		}
		return parseModelQuotas(respBody), nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return map[string]ModelQuota{}, nil
}

func parseModelQuotas(body []byte) map[string]ModelQuota {
	result := make(map[string]ModelQuota)
	models := gjson.GetBytes(body, "models")
	if !models.IsObject() {
		return result
	}

	models.ForEach(func(modelID, modelData gjson.Result) bool {
		quota := ModelQuota{}
		if frac := modelData.Get("quotaInfo.remainingFraction"); frac.Exists() {
			v := frac.Float()
			quota.RemainingFraction = &v
		}
		if reset := modelData.Get("quotaInfo.resetTime"); reset.Exists() {
			v := reset.String()
			quota.ResetTime = &v
		}
		result[modelID.String()] = quota
		return true
	})
	return result
}

// HTTPResponse is the generic shape every upstream RPC response is reduced
// to; callers interpret status codes themselves.
type HTTPResponse struct {
	Status   int
	Headers  map[string]string
	BodyText string
}

// CallOptions configures a single v1internal RPC invocation. BaseURL
// overrides the default upstream endpoint and exists so tests can point the
// client at a local server; production callers leave it empty.
type CallOptions struct {
	QueryString string
	Headers     map[string]string
	Limiter     *ratelimiter.RateLimiter
	BaseURL     string
}

// CallV1Internal invokes a v1internal RPC method and returns the raw
// response. It never interprets 429 or any other status; that is the
// dispatcher's responsibility.
func (c *Client) CallV1Internal(ctx context.Context, method, accessToken string, body []byte, opts CallOptions) (*HTTPResponse, error) {
	if opts.Limiter != nil {
		if err := opts.Limiter.Wait(ctx); err != nil {
			return nil, errs.NewNetworkError(err)
		}
	}

	endpoint := opts.BaseURL
	if endpoint == "" {
		endpoint = config.AntigravityEndpointFallbacks[0]
	}
	url := endpoint + "/v1internal:" + method
	if opts.QueryString != "" {
		url += "?" + opts.QueryString
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.NewNetworkError(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range config.AntigravityHeaders() {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.NewNetworkError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewNetworkError(err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &HTTPResponse{Status: resp.StatusCode, Headers: headers, BodyText: string(respBody)}, nil
}
