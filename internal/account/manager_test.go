package account

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/w154594742/Antigravity2Api/internal/httpclient"
	"github.com/w154594742/Antigravity2Api/internal/logging"
	"github.com/w154594742/Antigravity2Api/internal/ratelimiter"
)

type fakeHTTP struct {
	mu            sync.Mutex
	refreshCalls  int32
	projectCalls  int32
	refreshDelay  time.Duration
	refreshResult *httpclient.RefreshResult
	refreshErr    error
	projectID     string
	projectErr    error
	userInfo      string
	models        map[string]httpclient.ModelQuota
}

func (f *fakeHTTP) RefreshToken(ctx context.Context, accountID, refreshToken string) (*httpclient.RefreshResult, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshResult != nil {
		return f.refreshResult, nil
	}
	return &httpclient.RefreshResult{
		AccessToken:  "new-token",
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiryDateMs: time.Now().Add(time.Hour).UnixMilli(),
	}, nil
}

func (f *fakeHTTP) FetchUserInfo(ctx context.Context, accessToken string) (string, error) {
	return f.userInfo, nil
}

func (f *fakeHTTP) FetchProjectID(ctx context.Context, accessToken string, limiter *ratelimiter.RateLimiter, maxAttempts int) (string, error) {
	atomic.AddInt32(&f.projectCalls, 1)
	if f.projectErr != nil {
		return "", f.projectErr
	}
	if f.projectID == "" {
		return "proj-123", nil
	}
	return f.projectID, nil
}

func (f *fakeHTTP) FetchAvailableModels(ctx context.Context, accessToken, projectID string, limiter *ratelimiter.RateLimiter) (map[string]httpclient.ModelQuota, error) {
	return f.models, nil
}

func writeTestCreds(t *testing.T, dir, filename string, creds Credentials) {
	t.Helper()
	require.NoError(t, writeCredentialFile(filepath.Join(dir, filename), creds))
}

func newTestManager(t *testing.T, fh *fakeHTTP) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := New(dir, fh, ratelimiter.New(0), logging.Noop{})
	return m, dir
}

func TestLoadAccountsEmptyPoolBoundary(t *testing.T) {
	fh := &fakeHTTP{}
	m, _ := newTestManager(t, fh)

	summary, err := m.LoadAccounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.Count)
	require.Equal(t, 0, summary.Current[GroupClaude])
	require.Equal(t, 0, summary.Current[GroupGemini])
	require.Empty(t, summary.Accounts)
}

func TestLoadAccountsScansAdmissibleFiles(t *testing.T) {
	fh := &fakeHTTP{}
	m, dir := newTestManager(t, fh)

	writeTestCreds(t, dir, "a_example.com.json", Credentials{
		AccessToken: "tok", RefreshToken: "rt", TokenType: "Bearer",
		ExpiryDateMs: time.Now().Add(time.Hour).UnixMilli(), ProjectID: "p1", ProjectIDResolvedAt: "2026-01-01T00:00:00Z",
	})
	writeTestCreds(t, dir, "incomplete.json", Credentials{AccessToken: "only-token"})

	summary, err := m.LoadAccounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Count)
}

func TestGetCredentialsByIndexRefreshesExpiredToken(t *testing.T) {
	fh := &fakeHTTP{}
	m, dir := newTestManager(t, fh)

	writeTestCreds(t, dir, "a_example.com.json", Credentials{
		AccessToken: "old", RefreshToken: "rt", TokenType: "Bearer",
		ExpiryDateMs: time.Now().Add(-time.Minute).UnixMilli(),
		ProjectID:    "p1", ProjectIDResolvedAt: "2026-01-01T00:00:00Z",
	})

	_, err := m.LoadAccounts(context.Background())
	require.NoError(t, err)

	result, err := m.GetCredentialsByIndex(context.Background(), 0, GroupGemini)
	require.NoError(t, err)
	require.Equal(t, "new-token", result.AccessToken)
	require.GreaterOrEqual(t, atomic.LoadInt32(&fh.refreshCalls), int32(1))
}

func TestGetCredentialsByIndexOutOfRange(t *testing.T) {
	fh := &fakeHTTP{}
	m, _ := newTestManager(t, fh)
	_, err := m.LoadAccounts(context.Background())
	require.NoError(t, err)

	_, err = m.GetCredentialsByIndex(context.Background(), 0, GroupGemini)
	require.Error(t, err)
}

func TestConcurrentRefreshesCoalesceToOneCall(t *testing.T) {
	fh := &fakeHTTP{refreshDelay: 50 * time.Millisecond}
	m, dir := newTestManager(t, fh)

	writeTestCreds(t, dir, "a_example.com.json", Credentials{
		AccessToken: "old", RefreshToken: "rt", TokenType: "Bearer",
		ExpiryDateMs: time.Now().Add(-time.Minute).UnixMilli(),
		ProjectID:    "p1", ProjectIDResolvedAt: "2026-01-01T00:00:00Z",
	})
	_, err := m.LoadAccounts(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.GetCredentialsByIndex(context.Background(), 0, GroupGemini)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, atomic.LoadInt32(&fh.refreshCalls), int32(2))
}

func TestAddAccountRejectsUnresolvedProjectID(t *testing.T) {
	fh := &fakeHTTP{}
	m, _ := newTestManager(t, fh)

	err := m.AddAccount(context.Background(), Credentials{
		AccessToken: "tok", RefreshToken: "rt", Email: "x@example.com",
	})
	require.Error(t, err)
}

func TestAddAccountPersistsAndAppendsToPool(t *testing.T) {
	fh := &fakeHTTP{}
	m, dir := newTestManager(t, fh)
	_, err := m.LoadAccounts(context.Background())
	require.NoError(t, err)

	err = m.AddAccount(context.Background(), Credentials{
		AccessToken: "tok", RefreshToken: "rt", Email: "new@example.com",
		TokenType: "Bearer", ExpiryDateMs: time.Now().Add(time.Hour).UnixMilli(),
		ProjectID: "p1", ProjectIDResolvedAt: "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, 1, m.AccountCount())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDeleteAccountByFilePreservesCurrentIdentity(t *testing.T) {
	fh := &fakeHTTP{}
	m, dir := newTestManager(t, fh)

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		writeTestCreds(t, dir, email+".json", Credentials{
			AccessToken: "tok", RefreshToken: "rt", TokenType: "Bearer",
			ExpiryDateMs: time.Now().Add(time.Hour).UnixMilli(),
			ProjectID:    "p1", ProjectIDResolvedAt: "2026-01-01T00:00:00Z", Email: email,
		})
	}
	_, err := m.LoadAccounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, m.AccountCount())

	m.mu.Lock()
	m.currentIndex[GroupClaude] = 2
	target := filepath.Base(m.accounts[0].FilePath)
	beforeCurrent := m.accounts[2].Snapshot().Email
	m.mu.Unlock()

	err = m.DeleteAccountByFile(target)
	require.NoError(t, err)
	require.Equal(t, 2, m.AccountCount())

	m.mu.RLock()
	afterIndex := m.currentIndex[GroupClaude]
	afterEmail := m.accounts[afterIndex].Snapshot().Email
	m.mu.RUnlock()
	require.Equal(t, beforeCurrent, afterEmail)
}

func TestDeleteAccountByFileCurrentSlotMovesToLast(t *testing.T) {
	fh := &fakeHTTP{}
	m, dir := newTestManager(t, fh)

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"} {
		writeTestCreds(t, dir, email+".json", Credentials{
			AccessToken: "tok", RefreshToken: "rt", TokenType: "Bearer",
			ExpiryDateMs: time.Now().Add(time.Hour).UnixMilli(),
			ProjectID:    "p1", ProjectIDResolvedAt: "2026-01-01T00:00:00Z", Email: email,
		})
	}
	_, err := m.LoadAccounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, m.AccountCount())

	// Delete the current slot while it is not the last one: the index
	// must move to the new last slot, not to the deleted slot's successor.
	m.mu.Lock()
	m.currentIndex[GroupGemini] = 2
	target := filepath.Base(m.accounts[2].FilePath)
	m.mu.Unlock()

	require.NoError(t, m.DeleteAccountByFile(target))
	require.Equal(t, 4, m.AccountCount())

	m.mu.RLock()
	defer m.mu.RUnlock()
	require.Equal(t, 3, m.currentIndex[GroupGemini])
}

func TestDeleteAccountByFileRejectsInvalidNames(t *testing.T) {
	fh := &fakeHTTP{}
	m, _ := newTestManager(t, fh)
	require.Error(t, m.DeleteAccountByFile("../escape.json"))
	require.Error(t, m.DeleteAccountByFile("no-extension"))
}

func TestRefreshAllProjectIdsRepairsUnverifiedAccounts(t *testing.T) {
	fh := &fakeHTTP{}
	m, dir := newTestManager(t, fh)

	writeTestCreds(t, dir, "unverified.json", Credentials{
		AccessToken: "tok", RefreshToken: "rt", TokenType: "Bearer",
		ExpiryDateMs: time.Now().Add(time.Hour).UnixMilli(),
	})
	_, err := m.LoadAccounts(context.Background())
	require.NoError(t, err)

	summary := m.RefreshAllProjectIds(context.Background())
	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.OK)
	require.Equal(t, 0, summary.Fail)
}
