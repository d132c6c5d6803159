package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	envClaudeModelMap = "AG2API_CLAUDE_MODEL_MAP"
	envGeminiModelMap = "AG2API_GEMINI_MODEL_MAP"
	envRetryDelayMs   = "AG2API_RETRY_DELAY_MS"
	envQuotaRefreshS  = "AG2API_QUOTA_REFRESH_S"
	envPort           = "AG2API_PORT"
	envAuthDir        = "AG2API_AUTH_DIR"
	envLogLevel       = "AG2API_LOG_LEVEL"
	envTokenSkewMs    = "AG2API_TOKEN_SKEW_MS"
)

const (
	// DefaultRetryDelayMs is the fixed cooldown/sleep applied when an
	// upstream retryDelay could not be parsed.
	DefaultRetryDelayMs = 1200
	// DefaultQuotaRefreshSeconds is the quota sweep interval.
	DefaultQuotaRefreshSeconds = 300
	// DefaultPort is the gateway's HTTP listen port.
	DefaultPort = "8080"
	// DefaultLogLevel is used when AG2API_LOG_LEVEL is unset or invalid.
	DefaultLogLevel = "info"
	// DefaultTokenSkewMs is the conservative skew applied to the refresh
	// deadline ahead of the credential's expiry_date, so a refresh lands
	// before the token actually lapses even under clock jitter.
	DefaultTokenSkewMs = 60_000
)

// modelMapCache memoizes a parsed model map by the raw env string it was
// parsed from, so repeated reads are cheap and re-reading after the
// environment changes invalidates correctly.
type modelMapCache struct {
	mu     sync.Mutex
	rawSeen string
	parsed map[string]string
}

func (c *modelMapCache) get(raw string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parsed != nil && raw == c.rawSeen {
		return c.parsed
	}
	c.parsed = ParseModelMap(raw)
	c.rawSeen = raw
	return c.parsed
}

var (
	claudeModelMapCache modelMapCache
	geminiModelMapCache modelMapCache
)

// ParseModelMap parses a JSON object of {fromModel: toModel} pairs, lower-
// casing keys and dropping any entry whose trimmed key or value is empty.
// An empty or invalid raw string yields an empty, non-nil map.
func ParseModelMap(raw string) map[string]string {
	result := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return result
	}

	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return result
	}

	for k, v := range decoded {
		key := strings.ToLower(strings.TrimSpace(k))
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		result[key] = val
	}
	return result
}

// ClaudeModelMap returns the parsed AG2API_CLAUDE_MODEL_MAP, memoized by raw
// value.
func ClaudeModelMap() map[string]string {
	return claudeModelMapCache.get(os.Getenv(envClaudeModelMap))
}

// GeminiModelMap returns the parsed AG2API_GEMINI_MODEL_MAP, memoized by raw
// value.
func GeminiModelMap() map[string]string {
	return geminiModelMapCache.get(os.Getenv(envGeminiModelMap))
}

func nonNegativeIntEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// RetryDelayMs is the fixed cooldown/retry-sleep duration (AG2API_RETRY_DELAY_MS).
func RetryDelayMs() int {
	return nonNegativeIntEnv(envRetryDelayMs, DefaultRetryDelayMs)
}

// QuotaRefreshSeconds is the quota sweep interval (AG2API_QUOTA_REFRESH_S).
func QuotaRefreshSeconds() int {
	return nonNegativeIntEnv(envQuotaRefreshS, DefaultQuotaRefreshSeconds)
}

// TokenSkewMs is the skew subtracted from expiry_date when scheduling the
// next refresh (AG2API_TOKEN_SKEW_MS).
func TokenSkewMs() int64 {
	return int64(nonNegativeIntEnv(envTokenSkewMs, DefaultTokenSkewMs))
}

// Port is the HTTP listen port the gateway entrypoint binds to.
func Port() string {
	if v := strings.TrimSpace(os.Getenv(envPort)); v != "" {
		return v
	}
	return DefaultPort
}

// AuthDir is the directory LoadAccounts scans for credential JSON files.
func AuthDir() string {
	if v := strings.TrimSpace(os.Getenv(envAuthDir)); v != "" {
		return v
	}
	return defaultAuthDir
}

// LogLevel is the configured logrus level name.
func LogLevel() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(envLogLevel)))
	switch v {
	case "debug", "info", "warn", "error":
		return v
	default:
		return DefaultLogLevel
	}
}
