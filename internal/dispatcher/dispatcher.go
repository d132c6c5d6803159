// Package dispatcher implements the Upstream Dispatcher: per-(model,
// account) quota tracking, a periodic background quota sweep, request-time
// account selection with 429 cooldown, and cached-error fast-fail.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/w154594742/Antigravity2Api/internal/account"
	"github.com/w154594742/Antigravity2Api/internal/config"
	"github.com/w154594742/Antigravity2Api/internal/httpclient"
	"github.com/w154594742/Antigravity2Api/internal/logging"
	"github.com/w154594742/Antigravity2Api/internal/ratelimiter"
)

// initialQuotaWaitMs bounds how long a request or the startup sweep waits
// for the account pool to become usable. Not env-overridable: no
// AG2API_* variable names it, unlike the sweep interval and retry delay.
const initialQuotaWaitMs = 3000

// AccountSource is the subset of account.Manager the dispatcher depends on.
type AccountSource interface {
	AccountCount() int
	InitialRefreshCompleted() bool
	Summary() account.Summary
	GetCredentialsByIndex(ctx context.Context, index int, group account.Group) (account.CredentialsResult, error)
	GetAccessTokenByIndex(ctx context.Context, index int, group account.Group) (account.CredentialsResult, error)
}

// HTTPClient is the subset of httpclient.Client the dispatcher depends on.
type HTTPClient interface {
	CallV1Internal(ctx context.Context, method, accessToken string, body []byte, opts httpclient.CallOptions) (*httpclient.HTTPResponse, error)
	FetchAvailableModels(ctx context.Context, accessToken, projectID string, limiter *ratelimiter.RateLimiter) (map[string]httpclient.ModelQuota, error)
}

// Dispatcher owns quota state and the request routing policy.
type Dispatcher struct {
	accounts AccountSource
	http     HTTPClient
	limiter  *ratelimiter.RateLimiter
	log      logging.Logger

	quotaMu sync.RWMutex
	quota   map[string]map[string]*QuotaEntry

	cachedErrMu sync.RWMutex
	cachedErr   map[string]*CachedError

	sweeping        atomic.Bool
	sweepIntervalS  int
	fixedRetryDelay time.Duration

	initialSweepOnce sync.Once
	initialSweepDone chan struct{}

	sweepTimerMu sync.Mutex
	sweepTimer   *time.Timer

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New builds a Dispatcher. It does not start the background sweep; call
// Start for that.
func New(accounts AccountSource, httpClient HTTPClient, limiter *ratelimiter.RateLimiter, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Noop{}
	}
	return &Dispatcher{
		accounts:         accounts,
		http:             httpClient,
		limiter:          limiter,
		log:              log,
		quota:            make(map[string]map[string]*QuotaEntry),
		cachedErr:        make(map[string]*CachedError),
		sweepIntervalS:   config.QuotaRefreshSeconds(),
		fixedRetryDelay:  time.Duration(config.RetryDelayMs()) * time.Millisecond,
		initialSweepDone: make(chan struct{}),
		shutdownCh:       make(chan struct{}),
	}
}

// Start waits for the account pool to become non-empty and the initial
// token-refresh batch to finish (bounded by initialQuotaWaitMs, polling at
// 50ms), performs one sweep, then arms the self-rescheduling periodic
// sweep timer.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		deadline := time.Now().Add(initialQuotaWaitMs * time.Millisecond)
		for (d.accounts.AccountCount() == 0 || !d.accounts.InitialRefreshCompleted()) && time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return
			case <-d.shutdownCh:
				return
			case <-time.After(50 * time.Millisecond):
			}
		}

		d.sweepOnce(ctx)
		d.initialSweepOnce.Do(func() { close(d.initialSweepDone) })
		d.armSweepTimer(ctx)
	}()
}

func (d *Dispatcher) armSweepTimer(ctx context.Context) {
	d.sweepTimerMu.Lock()
	defer d.sweepTimerMu.Unlock()

	select {
	case <-d.shutdownCh:
		return
	default:
	}

	d.sweepTimer = time.AfterFunc(time.Duration(d.sweepIntervalS)*time.Second, func() {
		d.sweepOnce(ctx)
		d.armSweepTimer(ctx)
	})
}

// awaitInitialSweep blocks until the first sweep completes, ctx is
// cancelled, or initialQuotaWaitMs elapses, whichever comes first.
func (d *Dispatcher) awaitInitialSweep(ctx context.Context) {
	select {
	case <-d.initialSweepDone:
	case <-ctx.Done():
	case <-time.After(initialQuotaWaitMs * time.Millisecond):
	}
}

func (d *Dispatcher) initialSweepCompleted() bool {
	select {
	case <-d.initialSweepDone:
		return true
	default:
		return false
	}
}

// sweepOnce refreshes quota observations for every account in parallel.
// Non-reentrant: a sweep already in flight drops this trigger.
func (d *Dispatcher) sweepOnce(ctx context.Context) {
	if !d.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer d.sweeping.Store(false)

	summary := d.accounts.Summary()
	if len(summary.Accounts) == 0 {
		return
	}

	var wg sync.WaitGroup
	var failed atomic.Int32
	for _, acc := range summary.Accounts {
		wg.Add(1)
		go func(index int, accountID string) {
			defer wg.Done()
			creds, err := d.accounts.GetAccessTokenByIndex(ctx, index, account.GroupGemini)
			if err != nil {
				failed.Add(1)
				d.log.Warn("quota sweep: token fetch failed", logging.Fields{"account": accountID, "error": err.Error()})
				return
			}
			quotas, err := d.http.FetchAvailableModels(ctx, creds.AccessToken, creds.ProjectID, nil)
			if err != nil {
				failed.Add(1)
				d.log.Warn("quota sweep: fetch models failed", logging.Fields{"account": accountID, "error": err.Error()})
				return
			}
			d.updateQuotaFromSweep(accountID, quotas)
		}(acc.Index, acc.ID)
	}
	wg.Wait()

	d.log.Debug("quota sweep complete", logging.Fields{"accounts": len(summary.Accounts), "failed": failed.Load()})
}

// Shutdown stops the sweep timer and waits for any in-flight sweep to
// finish, bounded by ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })

	d.sweepTimerMu.Lock()
	if d.sweepTimer != nil {
		d.sweepTimer.Stop()
	}
	d.sweepTimerMu.Unlock()

	for d.sweeping.Load() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}
