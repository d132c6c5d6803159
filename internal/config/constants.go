// Package config provides configuration constants and environment-backed
// runtime configuration for the gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Version is the gateway version string.
const Version = "1.0.0"

// Cloud Code API endpoints (in fallback order).
const (
	AntigravityEndpointDaily = "https://daily-cloudcode-pa.googleapis.com"
	AntigravityEndpointProd  = "https://cloudcode-pa.googleapis.com"
)

// AntigravityEndpointFallbacks is the endpoint fallback order (daily -> prod)
// for generateContent, fetchAvailableModels and countTokens.
var AntigravityEndpointFallbacks = []string{
	AntigravityEndpointDaily,
	AntigravityEndpointProd,
}

// ProjectIDDiscoveryEndpoints is the endpoint order for onboardUser/project
// discovery (prod first: loadCodeAssist/onboardUser behaves better on prod
// for fresh, unprovisioned accounts).
var ProjectIDDiscoveryEndpoints = []string{
	AntigravityEndpointProd,
	AntigravityEndpointDaily,
}

// DefaultProjectID is used only as a last-resort placeholder in requests
// that are built before a project id has been resolved.
const DefaultProjectID = "rising-fact-p41fc"

// IDE/platform/plugin enums, as expected by the upstream ClientMetadata.
const (
	ideTypeAntigravity  = 6
	platformUnspecified = 0
	platformWindows     = 1
	platformLinux       = 2
	platformMacOS       = 3
	pluginTypeGemini    = 2
)

func platformEnum() int {
	switch runtime.GOOS {
	case "darwin":
		return platformMacOS
	case "windows":
		return platformWindows
	case "linux":
		return platformLinux
	default:
		return platformUnspecified
	}
}

func platformUserAgent() string {
	return fmt.Sprintf("antigravity-proxy-go/%s %s/%s", Version, runtime.GOOS, runtime.GOARCH)
}

func clientMetadataJSON() string {
	return fmt.Sprintf(`{"ideType":%d,"platform":%d,"pluginType":%d}`,
		ideTypeAntigravity, platformEnum(), pluginTypeGemini)
}

// AntigravityHeaders are the vendor-identification headers required on every
// outbound Cloud Code request.
func AntigravityHeaders() map[string]string {
	return map[string]string{
		"User-Agent":        platformUserAgent(),
		"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":   clientMetadataJSON(),
	}
}

// OAuth configuration used by RefreshToken/FetchUserInfo. The browser
// authorization-code flow itself is out of scope; only the endpoints token
// refresh needs are kept.
const (
	OAuthClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	OAuthClientSecret = "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"
	OAuthTokenURL     = "https://oauth2.googleapis.com/token"
	OAuthUserInfoURL  = "https://www.googleapis.com/oauth2/v1/userinfo"
)

// defaultAuthDir is used when AG2API_AUTH_DIR is unset.
var defaultAuthDir = filepath.Join(homeDir(), ".config", "antigravity-proxy", "auth")

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// ModelFamily identifies which vendor surface a model name belongs to.
type ModelFamily string

const (
	ModelFamilyClaude  ModelFamily = "claude"
	ModelFamilyGemini  ModelFamily = "gemini"
	ModelFamilyUnknown ModelFamily = "unknown"
)

// GetModelFamily infers the quota group from a model name: contains
// "claude" -> claude, contains "gemini" or unrecognized -> gemini, per the
// dispatcher's group-inference rule.
func GetModelFamily(modelName string) ModelFamily {
	lower := strings.ToLower(modelName)
	if strings.Contains(lower, "claude") {
		return ModelFamilyClaude
	}
	return ModelFamilyGemini
}

var geminiVersionRe = regexp.MustCompile(`gemini-(\d+)`)

// IsThinkingModel reports whether a model name indicates extended/thinking
// output support.
func IsThinkingModel(modelName string) bool {
	lower := strings.ToLower(modelName)

	if strings.Contains(lower, "claude") && strings.Contains(lower, "thinking") {
		return true
	}

	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "thinking") {
			return true
		}
		if m := geminiVersionRe.FindStringSubmatch(lower); len(m) >= 2 {
			if version, err := strconv.Atoi(m[1]); err == nil && version >= 3 {
				return true
			}
		}
	}

	return false
}
