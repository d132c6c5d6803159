package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pct(v int) *int { return &v }

func TestSelectCandidatePrefersHigherRemainingPercent(t *testing.T) {
	candidates := []Candidate{
		{Index: 0, AccountID: "A", RemainingPercent: pct(40)},
		{Index: 1, AccountID: "B", RemainingPercent: pct(60)},
	}
	got, ok := selectCandidate(candidates, map[int]bool{}, false)
	require.True(t, ok)
	require.Equal(t, "B", got.AccountID)
}

func TestSelectCandidateStableTieBreakByIndex(t *testing.T) {
	candidates := []Candidate{
		{Index: 2, AccountID: "C", RemainingPercent: pct(50)},
		{Index: 0, AccountID: "A", RemainingPercent: pct(50)},
		{Index: 1, AccountID: "B", RemainingPercent: pct(50)},
	}
	got, ok := selectCandidate(candidates, map[int]bool{}, false)
	require.True(t, ok)
	require.Equal(t, 0, got.Index)
}

func TestSelectCandidateUnknownRanksBelowKnownNonZero(t *testing.T) {
	candidates := []Candidate{
		{Index: 0, AccountID: "A"},
		{Index: 1, AccountID: "B", RemainingPercent: pct(10)},
	}
	got, ok := selectCandidate(candidates, map[int]bool{}, false)
	require.True(t, ok)
	require.Equal(t, "B", got.AccountID)
}

func TestSelectCandidateSoonerResetWinsOnEqualPercent(t *testing.T) {
	now := time.Now().UnixMilli()
	candidates := []Candidate{
		{Index: 0, AccountID: "A", RemainingPercent: pct(50), ResetTimeMs: now + 60_000},
		{Index: 1, AccountID: "B", RemainingPercent: pct(50), ResetTimeMs: now + 5_000},
	}
	got, ok := selectCandidate(candidates, map[int]bool{}, false)
	require.True(t, ok)
	require.Equal(t, "B", got.AccountID)
}

func TestSelectCandidateSkipsKnownZeroUnlessIncluded(t *testing.T) {
	candidates := []Candidate{{Index: 0, AccountID: "A", RemainingPercent: pct(0)}}

	_, ok := selectCandidate(candidates, map[int]bool{}, false)
	require.False(t, ok)

	got, ok := selectCandidate(candidates, map[int]bool{}, true)
	require.True(t, ok)
	require.Equal(t, "A", got.AccountID)
}

func TestSelectCandidateAllInCooldownReturnsNotOK(t *testing.T) {
	until := time.Now().Add(time.Minute).UnixMilli()
	candidates := []Candidate{
		{Index: 0, AccountID: "A", CooldownUntilMs: until},
		{Index: 1, AccountID: "B", CooldownUntilMs: until},
	}
	_, ok := selectCandidate(candidates, map[int]bool{}, false)
	require.False(t, ok)
}

func TestSelectCandidateExcludesTriedIndices(t *testing.T) {
	candidates := []Candidate{
		{Index: 0, AccountID: "A", RemainingPercent: pct(90)},
		{Index: 1, AccountID: "B", RemainingPercent: pct(10)},
	}
	got, ok := selectCandidate(candidates, map[int]bool{0: true}, false)
	require.True(t, ok)
	require.Equal(t, "B", got.AccountID)
}

func TestSelectCandidateCooldownRanksLast(t *testing.T) {
	until := time.Now().Add(time.Minute).UnixMilli()
	candidates := []Candidate{
		{Index: 0, AccountID: "A", RemainingPercent: pct(90), CooldownUntilMs: until},
		{Index: 1, AccountID: "B", RemainingPercent: pct(10)},
	}
	got, ok := selectCandidate(candidates, map[int]bool{}, false)
	require.True(t, ok)
	require.Equal(t, "B", got.AccountID)
}
