// Package tokenrefresher schedules a single deferred token refresh per
// account: one cancellable time.AfterFunc slot per account key.
package tokenrefresher

import (
	"sync"
	"time"
)

// RefreshFunc is invoked when an account's scheduled deadline fires.
type RefreshFunc func(accountID string)

// Refresher owns one cancellable timer per account.
type Refresher struct {
	mu        sync.Mutex
	timers    map[string]*time.Timer
	deadlines map[string]time.Time
	refreshFn RefreshFunc
	skewMs    int64
}

// New builds a Refresher that calls refreshFn when an account's scheduled
// deadline fires. skewMs is subtracted from expiryDateMs when computing
// the deadline so refreshes land before the token lapses.
func New(refreshFn RefreshFunc, skewMs int64) *Refresher {
	return &Refresher{
		timers:    make(map[string]*time.Timer),
		deadlines: make(map[string]time.Time),
		refreshFn: refreshFn,
		skewMs:    skewMs,
	}
}

// ScheduleRefresh cancels any previous timer for accountID and installs a
// new one firing at expiryDateMs - skewMs (or immediately if that instant
// has already passed).
func (r *Refresher) ScheduleRefresh(accountID string, expiryDateMs int64) {
	deadline := time.UnixMilli(expiryDateMs - r.skewMs)
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.timers[accountID]; ok {
		existing.Stop()
	}

	r.deadlines[accountID] = deadline
	r.timers[accountID] = time.AfterFunc(delay, func() {
		r.refreshFn(accountID)
	})
}

// CancelRefresh stops accountID's scheduled timer, if any. Idempotent.
func (r *Refresher) CancelRefresh(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.timers[accountID]; ok {
		existing.Stop()
		delete(r.timers, accountID)
		delete(r.deadlines, accountID)
	}
}

// RefreshDueAccountsNow kicks off (without awaiting completion) a refresh
// for every account whose deadline has already passed, and returns a
// handle that completes once every kicked-off refresh has returned.
func (r *Refresher) RefreshDueAccountsNow() *sync.WaitGroup {
	now := time.Now()

	r.mu.Lock()
	due := make([]string, 0, len(r.deadlines))
	for accountID, deadline := range r.deadlines {
		if !deadline.After(now) {
			due = append(due, accountID)
		}
	}
	r.mu.Unlock()

	wg := &sync.WaitGroup{}
	for _, accountID := range due {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.refreshFn(id)
		}(accountID)
	}
	return wg
}

// Shutdown stops every outstanding timer so none hold the process alive.
func (r *Refresher) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
		delete(r.deadlines, id)
	}
}
