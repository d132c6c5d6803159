package dispatcher

import (
	"context"
	"time"

	"github.com/w154594742/Antigravity2Api/internal/account"
	"github.com/w154594742/Antigravity2Api/internal/config"
	"github.com/w154594742/Antigravity2Api/internal/duration"
	"github.com/w154594742/Antigravity2Api/internal/errs"
	"github.com/w154594742/Antigravity2Api/internal/httpclient"
	"github.com/w154594742/Antigravity2Api/internal/logging"
)

// CallRequest describes one upstream v1internal RPC invocation routed
// through the dispatcher's account-selection and 429 policy.
type CallRequest struct {
	// Method is the upstream RPC name, called as "v1internal:<Method>".
	Method string
	// BuildBody builds the request payload once the dispatcher has chosen
	// an account, so the body can embed that account's projectId.
	BuildBody func(projectID string) []byte
	// Group selects claude/gemini bookkeeping; if empty it is inferred
	// from Model.
	Group       account.Group
	Model       string
	QueryString string
	Headers     map[string]string
}

func (d *Dispatcher) resolveGroup(req CallRequest) account.Group {
	if req.Group != "" {
		return req.Group
	}
	if config.GetModelFamily(req.Model) == config.ModelFamilyClaude {
		return account.GroupClaude
	}
	return account.GroupGemini
}

// CallV1Internal selects an account, invokes the upstream RPC, and applies
// the retry/rotation/fast-fail policy.
func (d *Dispatcher) CallV1Internal(ctx context.Context, req CallRequest) (*httpclient.HTTPResponse, error) {
	group := d.resolveGroup(req)

	// 1. Pre-wait: give the startup sweep a chance to populate quota data
	// before a model-scoped request is routed blind.
	if req.Model != "" && !d.initialSweepCompleted() {
		d.awaitInitialSweep(ctx)
	}

	// 2. Fast-fail gate.
	if req.Model != "" {
		candidates := d.buildCandidates(req.Model)
		if modelKnown(candidates) && allKnownZero(candidates) {
			if cached := d.getCachedError(req.Model); cached != nil {
				d.log.Debug("fast-fail: cached error returned", logging.Fields{"model": req.Model})
				return cached.toResponse(), nil
			}
			return d.probeForCachedError(ctx, req, group, candidates)
		}
	}

	return d.attemptLoop(ctx, req, group)
}

// modelKnown reports whether at least one candidate carries an observed
// remainingPercent for the model (vs. the sweep never having seen it).
func modelKnown(candidates []Candidate) bool {
	for _, c := range candidates {
		if c.RemainingPercent != nil {
			return true
		}
	}
	return false
}

// probeForCachedError performs a single attempt against the best-ranked
// candidate (ignoring the known-zero exclusion) purely to obtain an error
// response worth caching, so later requests can fast-fail.
func (d *Dispatcher) probeForCachedError(ctx context.Context, req CallRequest, group account.Group, candidates []Candidate) (*httpclient.HTTPResponse, error) {
	candidate, ok := selectCandidate(candidates, map[int]bool{}, true)
	if !ok {
		if cached := d.getCachedError(req.Model); cached != nil {
			return cached.toResponse(), nil
		}
		return nil, errs.NewExhaustedError()
	}

	resp, credErr, callErr := d.attemptOnce(ctx, req, group, candidate)
	if credErr != nil {
		return nil, credErr
	}
	if callErr != nil {
		return nil, callErr
	}
	if !is2xx(resp.Status) {
		d.setCachedError(req.Model, resp)
	}
	return resp, nil
}

func is2xx(status int) bool { return status >= 200 && status < 300 }

// selectForAttempt picks the next account: quota-ranked selection when a
// model is named, otherwise the group's current index with no exclusion or
// cooldown logic.
func (d *Dispatcher) selectForAttempt(model string, group account.Group, tried map[int]bool) (Candidate, bool) {
	if model == "" {
		summary := d.accounts.Summary()
		if summary.Count == 0 {
			return Candidate{}, false
		}
		idx := summary.Current[group]
		if idx < 0 || idx >= summary.Count {
			idx = 0
		}
		return Candidate{Index: idx, AccountID: summary.Accounts[idx].ID}, true
	}

	candidates := d.buildCandidates(model)
	return selectCandidate(candidates, tried, false)
}

// attemptOnce fetches credentials for candidate, builds the request body,
// and issues exactly one HTTP call. It never interprets the response.
// credErr is set only when credential lookup itself failed; that failure
// is not part of the upstream retry/rotation policy and must propagate to
// the caller immediately.
func (d *Dispatcher) attemptOnce(ctx context.Context, req CallRequest, group account.Group, candidate Candidate) (resp *httpclient.HTTPResponse, credErr error, callErr error) {
	creds, err := d.accounts.GetCredentialsByIndex(ctx, candidate.Index, group)
	if err != nil {
		return nil, err, nil
	}

	body := req.BuildBody(creds.ProjectID)
	resp, err = d.http.CallV1Internal(ctx, req.Method, creds.AccessToken, body, httpclient.CallOptions{
		QueryString: req.QueryString,
		Headers:     req.Headers,
		Limiter:     d.limiter,
	})
	return resp, nil, err
}

// attemptLoop runs up to maxAttempts selection/call iterations, rotating
// accounts on 429s and network errors.
func (d *Dispatcher) attemptLoop(ctx context.Context, req CallRequest, group account.Group) (*httpclient.HTTPResponse, error) {
	maxAttempts := d.accounts.AccountCount()
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	tried := make(map[int]bool, maxAttempts)
	var last429 *httpclient.HTTPResponse
	var lastNetErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		candidate, ok := d.selectForAttempt(req.Model, group, tried)
		if !ok {
			break
		}
		tried[candidate.Index] = true

		d.log.Debug("upstream attempt", logging.Fields{
			"method": req.Method, "group": group, "account": candidate.AccountID,
			"attempt": attempt, "maxAttempts": maxAttempts,
		})

		resp, credErr, callErr := d.attemptOnce(ctx, req, group, candidate)
		if credErr != nil {
			return nil, credErr
		}
		if callErr != nil {
			lastNetErr = callErr

			if maxAttempts == 1 {
				d.sleep(ctx, d.fixedRetryDelay)
				resp2, credErr2, callErr2 := d.attemptOnce(ctx, req, group, candidate)
				if credErr2 != nil {
					return nil, credErr2
				}
				if callErr2 != nil {
					return nil, callErr2
				}
				return d.disposeTerminal(req.Model, candidate, resp2), nil
			}

			d.log.Warn("retrying after network error", logging.Fields{"reason": "network", "delayMs": d.fixedRetryDelay.Milliseconds(), "nextAction": "rotate"})
			d.sleep(ctx, d.fixedRetryDelay)
			continue
		}

		if is2xx(resp.Status) {
			return resp, nil
		}

		if resp.Status == 429 {
			retryMs, retryKnown := duration.ExtractRetryDelayMs([]byte(resp.BodyText))
			cooldownMs := d.fixedRetryDelay.Milliseconds()
			if retryKnown && retryMs > cooldownMs {
				cooldownMs = retryMs
			}
			d.setCooldown(req.Model, candidate.AccountID, cooldownMs)
			d.log.Info("quota event", logging.Fields{"event": "rate_limited", "account": candidate.AccountID, "group": group, "resetDelay": retryMs})
			last429 = resp
			d.setCachedError(req.Model, resp)

			if maxAttempts == 1 {
				if retryKnown && retryMs > 5000 {
					return resp, nil
				}
				sleepMs := d.fixedRetryDelay
				if retryKnown {
					sleepMs = time.Duration(retryMs+200) * time.Millisecond
				}
				d.sleep(ctx, sleepMs)
				resp2, credErr2, callErr2 := d.attemptOnce(ctx, req, group, candidate)
				if credErr2 != nil {
					return nil, credErr2
				}
				if callErr2 != nil {
					return nil, callErr2
				}
				return d.disposeTerminal(req.Model, candidate, resp2), nil
			}

			if !retryKnown {
				d.log.Warn("retrying after 429", logging.Fields{"reason": "upstream_429", "delayMs": d.fixedRetryDelay.Milliseconds(), "nextAction": "rotate"})
				d.sleep(ctx, d.fixedRetryDelay)
			}
			continue
		}

		// Non-429 4xx/5xx: cache and return as-is, no retry, no rotation.
		d.setCachedError(req.Model, resp)
		return resp, nil
	}

	return d.exhaust(req.Model, last429, lastNetErr)
}

// disposeTerminal applies the single-retry disposition (no further rotation
// available): cache non-2xx responses, then return whatever came back.
func (d *Dispatcher) disposeTerminal(model string, candidate Candidate, resp *httpclient.HTTPResponse) *httpclient.HTTPResponse {
	if !is2xx(resp.Status) {
		if resp.Status == 429 {
			retryMs, retryKnown := duration.ExtractRetryDelayMs([]byte(resp.BodyText))
			cooldownMs := d.fixedRetryDelay.Milliseconds()
			if retryKnown && retryMs > cooldownMs {
				cooldownMs = retryMs
			}
			d.setCooldown(model, candidate.AccountID, cooldownMs)
		}
		d.setCachedError(model, resp)
	}
	return resp
}

// exhaust resolves a finished loop: the last 429, else the last network
// error, else the cached error, else a synthetic exhausted error.
func (d *Dispatcher) exhaust(model string, last429 *httpclient.HTTPResponse, lastNetErr error) (*httpclient.HTTPResponse, error) {
	if last429 != nil {
		return last429, nil
	}
	if lastNetErr != nil {
		return nil, lastNetErr
	}
	if cached := d.getCachedError(model); cached != nil {
		return cached.toResponse(), nil
	}
	return nil, errs.NewExhaustedError()
}

// sleep blocks for d, interruptible by ctx cancellation or dispatcher
// shutdown.
func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	if dur <= 0 {
		return
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-d.shutdownCh:
	}
}

// CountTokens is a thin convenience wrapper routing through CallV1Internal
// with the same policy.
func (d *Dispatcher) CountTokens(ctx context.Context, buildBody func(projectID string) []byte, group account.Group, model string) (*httpclient.HTTPResponse, error) {
	return d.CallV1Internal(ctx, CallRequest{Method: "countTokens", BuildBody: buildBody, Group: group, Model: model})
}

// FetchAvailableModels is the current-account pass-through used by the
// admin surface, distinct from the sweep's all-accounts variant.
func (d *Dispatcher) FetchAvailableModels(ctx context.Context, group account.Group) (map[string]httpclient.ModelQuota, error) {
	summary := d.accounts.Summary()
	if summary.Count == 0 {
		return nil, errs.NewNoAccountsError()
	}
	idx := summary.Current[group]
	creds, err := d.accounts.GetCredentialsByIndex(ctx, idx, group)
	if err != nil {
		return nil, err
	}
	return d.http.FetchAvailableModels(ctx, creds.AccessToken, creds.ProjectID, nil)
}
