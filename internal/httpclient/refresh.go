package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/w154594742/Antigravity2Api/internal/config"
	"github.com/w154594742/Antigravity2Api/internal/errs"
)

// RefreshResult is the subset of Credentials fields RefreshToken learns.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string // possibly rotated; empty means "unchanged"
	TokenType    string
	Scope        string
	ExpiryDateMs int64
}

// RefreshToken exchanges a refresh token for a new access token. Fails
// with *errs.RefreshFailedError on any non-2xx response or transport
// failure.
func (c *Client) RefreshToken(ctx context.Context, accountID, refreshToken string) (*RefreshResult, error) {
	form := strings.NewReader(
		"client_id=" + url.QueryEscape(config.OAuthClientID) +
			"&client_secret=" + url.QueryEscape(config.OAuthClientSecret) +
			"&refresh_token=" + url.QueryEscape(refreshToken) +
			"&grant_type=refresh_token",
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.OAuthTokenURL, form)
	if err != nil {
		return nil, errs.NewRefreshFailedError(accountID, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.NewRefreshFailedError(accountID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewRefreshFailedError(accountID, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errs.NewRefreshFailedError(accountID, errs.NewUpstreamError(resp.StatusCode, nil, string(body)))
	}

	parsed := gjson.ParseBytes(body)
	result := &RefreshResult{
		AccessToken:  parsed.Get("access_token").String(),
		RefreshToken: parsed.Get("refresh_token").String(),
		TokenType:    parsed.Get("token_type").String(),
		Scope:        parsed.Get("scope").String(),
	}
	if expiresIn := parsed.Get("expires_in"); expiresIn.Exists() {
		result.ExpiryDateMs = nowMs() + expiresIn.Int()*1000
	}

	if result.AccessToken == "" {
		return nil, errs.NewRefreshFailedError(accountID, errs.NewUpstreamError(resp.StatusCode, nil, "no access_token in response"))
	}

	return result, nil
}

// FetchUserInfo returns the account's email address for the given access
// token, used opportunistically to learn it on first use.
func (c *Client) FetchUserInfo(ctx context.Context, accessToken string) (email string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.OAuthUserInfoURL, nil)
	if err != nil {
		return "", errs.NewNetworkError(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.NewNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.NewNetworkError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", errs.NewUpstreamError(resp.StatusCode, nil, string(body))
	}

	return gjson.GetBytes(body, "email").String(), nil
}
