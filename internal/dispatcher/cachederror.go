package dispatcher

import (
	"time"

	"github.com/w154594742/Antigravity2Api/internal/httpclient"
)

// CachedError is the last non-2xx response observed for a model, cloned so
// it can be replayed as a fast-fail answer once every account is known
// exhausted. There is no TTL: the next sweep re-opens selection.
type CachedError struct {
	Status     int
	Headers    map[string]string
	BodyText   string
	CachedAtMs int64
}

func (e *CachedError) toResponse() *httpclient.HTTPResponse {
	return &httpclient.HTTPResponse{Status: e.Status, Headers: e.Headers, BodyText: e.BodyText}
}

func (d *Dispatcher) setCachedError(model string, resp *httpclient.HTTPResponse) {
	d.cachedErrMu.Lock()
	defer d.cachedErrMu.Unlock()
	d.cachedErr[model] = &CachedError{
		Status:     resp.Status,
		Headers:    resp.Headers,
		BodyText:   resp.BodyText,
		CachedAtMs: time.Now().UnixMilli(),
	}
}

func (d *Dispatcher) getCachedError(model string) *CachedError {
	d.cachedErrMu.RLock()
	defer d.cachedErrMu.RUnlock()
	return d.cachedErr[model]
}
