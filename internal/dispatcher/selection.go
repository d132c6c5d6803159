package dispatcher

import (
	"sort"
	"time"
)

// selectCandidate picks the best untried candidate for a model:
// active-cooldown accounts last, then by
// remainingPercent descending (unknown ranks below any known non-zero
// value), then by resetTimeMs ascending (unknown ranks last), then by
// index ascending. Returns ok=false if no untried candidate is currently
// out of cooldown.
func selectCandidate(candidates []Candidate, tried map[int]bool, includeZero bool) (Candidate, bool) {
	now := time.Now().UnixMilli()

	viable := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if tried[c.Index] {
			continue
		}
		if !includeZero && c.RemainingPercent != nil && *c.RemainingPercent == 0 {
			continue
		}
		viable = append(viable, c)
	}
	if len(viable) == 0 {
		return Candidate{}, false
	}

	sort.SliceStable(viable, func(i, j int) bool {
		a, b := viable[i], viable[j]

		aCooldown := a.CooldownUntilMs > now
		bCooldown := b.CooldownUntilMs > now
		if aCooldown != bCooldown {
			return !aCooldown
		}

		ap, bp := -1, -1
		if a.RemainingPercent != nil {
			ap = *a.RemainingPercent
		}
		if b.RemainingPercent != nil {
			bp = *b.RemainingPercent
		}
		if ap != bp {
			return ap > bp
		}

		ar, br := a.ResetTimeMs, b.ResetTimeMs
		if ar == 0 {
			ar = int64(1) << 62
		}
		if br == 0 {
			br = int64(1) << 62
		}
		if ar != br {
			return ar < br
		}

		return a.Index < b.Index
	})

	top := viable[0]
	if top.CooldownUntilMs > now {
		return Candidate{}, false
	}
	return top, true
}
