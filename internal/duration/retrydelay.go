package duration

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractRetryDelayMs walks an upstream error body's `error.details[]` and
// returns the retry hint in milliseconds. Objects whose `@type` contains
// "RetryInfo" carry a `retryDelay` duration string;
// objects carrying `metadata.quotaResetDelay` carry the same kind of
// string under a different key. The first parseable hint wins; ok is false
// when neither is present or neither parses.
func ExtractRetryDelayMs(body []byte) (ms int64, ok bool) {
	details := gjson.GetBytes(body, "error.details")
	if !details.IsArray() {
		return 0, false
	}

	details.ForEach(func(_, detail gjson.Result) bool {
		if typ := detail.Get("@type").String(); strings.Contains(typ, "RetryInfo") {
			if raw := detail.Get("retryDelay").String(); raw != "" {
				if parsed, parsedOK := Parse(raw); parsedOK {
					ms, ok = parsed, true
					return false
				}
			}
		}
		if raw := detail.Get("metadata.quotaResetDelay").String(); raw != "" {
			if parsed, parsedOK := Parse(raw); parsedOK {
				ms, ok = parsed, true
				return false
			}
		}
		return true
	})

	return ms, ok
}
