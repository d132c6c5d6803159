package dispatcher

import (
	"math"
	"time"

	"github.com/w154594742/Antigravity2Api/internal/httpclient"
)

// QuotaEntry is the per-(model, account) observation the sweep and the 429
// path both write to.
type QuotaEntry struct {
	RemainingPercent *int
	ResetTimeMs      int64
	CooldownUntilMs  int64
	UpdatedAtMs      int64
}

func (d *Dispatcher) entryLocked(model, accountID string) *QuotaEntry {
	byAccount, ok := d.quota[model]
	if !ok {
		byAccount = make(map[string]*QuotaEntry)
		d.quota[model] = byAccount
	}
	entry, ok := byAccount[accountID]
	if !ok {
		entry = &QuotaEntry{}
		byAccount[accountID] = entry
	}
	return entry
}

func (d *Dispatcher) updateQuotaFromSweep(accountID string, quotas map[string]httpclient.ModelQuota) {
	now := time.Now().UnixMilli()

	d.quotaMu.Lock()
	defer d.quotaMu.Unlock()

	for model, q := range quotas {
		entry := d.entryLocked(model, accountID)
		if q.RemainingFraction != nil {
			pct := int(math.Round(*q.RemainingFraction * 100))
			entry.RemainingPercent = &pct
		}
		if q.ResetTime != nil {
			if t, err := time.Parse(time.RFC3339, *q.ResetTime); err == nil {
				entry.ResetTimeMs = t.UnixMilli()
			}
		}
		entry.UpdatedAtMs = now
	}
}

// setCooldown marks (model, accountID) as cooldown-active until now+cooldownMs.
func (d *Dispatcher) setCooldown(model, accountID string, cooldownMs int64) {
	d.quotaMu.Lock()
	defer d.quotaMu.Unlock()

	entry := d.entryLocked(model, accountID)
	entry.CooldownUntilMs = time.Now().UnixMilli() + cooldownMs
	entry.UpdatedAtMs = time.Now().UnixMilli()
}

// Candidate is one account's ranking inputs for a given model at selection
// time.
type Candidate struct {
	Index            int
	AccountID        string
	RemainingPercent *int
	ResetTimeMs      int64
	CooldownUntilMs  int64
}

// buildCandidates snapshots every account's quota state for model. Returns
// nil if model is empty (the "no model supplied" fallback path never
// consults quota).
func (d *Dispatcher) buildCandidates(model string) []Candidate {
	if model == "" {
		return nil
	}

	summary := d.accounts.Summary()

	d.quotaMu.RLock()
	defer d.quotaMu.RUnlock()

	byAccount := d.quota[model]
	candidates := make([]Candidate, 0, len(summary.Accounts))
	for _, acc := range summary.Accounts {
		c := Candidate{Index: acc.Index, AccountID: acc.ID}
		if entry, ok := byAccount[acc.ID]; ok {
			c.RemainingPercent = entry.RemainingPercent
			c.ResetTimeMs = entry.ResetTimeMs
			c.CooldownUntilMs = entry.CooldownUntilMs
		}
		candidates = append(candidates, c)
	}
	return candidates
}

// allKnownZero reports whether every candidate has an observed
// remainingPercent of exactly 0.
func allKnownZero(candidates []Candidate) bool {
	if len(candidates) == 0 {
		return false
	}
	for _, c := range candidates {
		if c.RemainingPercent == nil || *c.RemainingPercent != 0 {
			return false
		}
	}
	return true
}
