package account

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/w154594742/Antigravity2Api/internal/config"
	"github.com/w154594742/Antigravity2Api/internal/errs"
	"github.com/w154594742/Antigravity2Api/internal/httpclient"
	"github.com/w154594742/Antigravity2Api/internal/logging"
	"github.com/w154594742/Antigravity2Api/internal/ratelimiter"
	"github.com/w154594742/Antigravity2Api/internal/tokenrefresher"
)

// HTTPClient is the narrow surface Manager needs from httpclient.Client,
// so tests can inject a fake upstream.
type HTTPClient interface {
	RefreshToken(ctx context.Context, accountID, refreshToken string) (*httpclient.RefreshResult, error)
	FetchUserInfo(ctx context.Context, accessToken string) (string, error)
	FetchProjectID(ctx context.Context, accessToken string, limiter *ratelimiter.RateLimiter, maxAttempts int) (string, error)
	FetchAvailableModels(ctx context.Context, accessToken, projectID string, limiter *ratelimiter.RateLimiter) (map[string]httpclient.ModelQuota, error)
}

// Manager owns the account pool.
type Manager struct {
	authDir string
	http    HTTPClient
	limiter *ratelimiter.RateLimiter
	log     logging.Logger

	refresher *tokenrefresher.Refresher

	mu           sync.RWMutex
	accounts     []*Account
	currentIndex map[Group]int

	initMu             sync.Mutex
	initialRefreshDone chan struct{}

	refreshGroup singleflight.Group
	projectGroup singleflight.Group
}

// New builds a Manager. limiter is the shared v1internal rate limiter used
// by FetchAvailableModels/FetchUserInfo convenience wrappers.
func New(authDir string, httpClient HTTPClient, limiter *ratelimiter.RateLimiter, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Noop{}
	}
	m := &Manager{
		authDir:      authDir,
		http:         httpClient,
		limiter:      limiter,
		log:          log,
		currentIndex: map[Group]int{GroupClaude: 0, GroupGemini: 0},
	}
	m.refresher = tokenrefresher.New(m.backgroundRefresh, config.TokenSkewMs())
	return m
}

// CredentialsResult is the result of a credential lookup: the access
// token, project id, and the Account/index it came from.
type CredentialsResult struct {
	AccessToken  string
	ProjectID    string
	Account      *Account
	AccountIndex int
}

// LoadAccounts scans authDir for credential JSON files, resets both group
// indices to 0, and kicks off (without blocking) an initial refresh pass
// followed by project-id repair.
func (m *Manager) LoadAccounts(ctx context.Context) (Summary, error) {
	accounts, err := scanAuthDir(m.authDir)
	if err != nil {
		return Summary{}, err
	}

	m.mu.Lock()
	m.accounts = accounts
	m.currentIndex[GroupClaude] = 0
	m.currentIndex[GroupGemini] = 0
	m.mu.Unlock()

	for _, acc := range accounts {
		m.refresher.ScheduleRefresh(acc.ID, acc.Snapshot().ExpiryDateMs)
	}

	m.initMu.Lock()
	m.initialRefreshDone = make(chan struct{})
	done := m.initialRefreshDone
	m.initMu.Unlock()

	// The initial refresh batch and project-id repair outlive the caller's
	// ctx: they run against their own deadline so a short-lived startup
	// context doesn't abort them mid-flight.
	go func() {
		m.refresher.RefreshDueAccountsNow().Wait()
		close(done)
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		m.RefreshAllProjectIds(bg)
	}()

	m.log.Info("accounts loaded", logging.Fields{"count": len(accounts), "authDir": m.authDir})
	return m.Summary(), nil
}

// InitialRefreshCompleted reports whether the refresh batch kicked off by
// the most recent LoadAccounts has finished. The dispatcher's startup
// sweep waits on this so it doesn't sweep with stale tokens.
func (m *Manager) InitialRefreshCompleted() bool {
	m.initMu.Lock()
	done := m.initialRefreshDone
	m.initMu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// ReloadAccounts cancels all scheduled timers, then reloads from disk.
func (m *Manager) ReloadAccounts(ctx context.Context) (Summary, error) {
	m.refresher.Shutdown()
	return m.LoadAccounts(ctx)
}

func (m *Manager) backgroundRefresh(accountID string) {
	acc := m.findByID(accountID)
	if acc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := m.ensureFreshToken(ctx, acc); err != nil {
		m.log.Warn("background refresh failed", logging.Fields{"account": accountID, "error": err.Error()})
	}
}

func (m *Manager) findByID(id string) *Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, acc := range m.accounts {
		if acc.ID == id {
			return acc
		}
	}
	return nil
}

func (m *Manager) accountByIndex(index int) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.accounts) == 0 {
		return nil, errs.NewNoAccountsError()
	}
	if index < 0 || index >= len(m.accounts) {
		return nil, errs.NewInvalidIndexError(index, len(m.accounts))
	}
	return m.accounts[index], nil
}

// ensureFreshToken refreshes acc's access token if it has expired,
// coalescing concurrent callers onto a single in-flight refresh: at most
// one refresh runs per account at any moment.
func (m *Manager) ensureFreshToken(ctx context.Context, acc *Account) (Credentials, error) {
	now := time.Now().UnixMilli()
	if acc.Snapshot().ExpiryDateMs > now {
		return acc.Snapshot(), nil
	}

	result, err, _ := m.refreshGroup.Do(acc.ID, func() (interface{}, error) {
		return m.doRefresh(ctx, acc)
	})
	if err != nil {
		return Credentials{}, err
	}
	return result.(Credentials), nil
}

func (m *Manager) doRefresh(ctx context.Context, acc *Account) (Credentials, error) {
	before := acc.Snapshot()
	result, err := m.http.RefreshToken(ctx, acc.ID, before.RefreshToken)
	if err != nil {
		return Credentials{}, err
	}

	after := acc.mutate(func(c *Credentials) {
		c.AccessToken = result.AccessToken
		if result.RefreshToken != "" {
			c.RefreshToken = result.RefreshToken
		}
		c.ExpiryDateMs = result.ExpiryDateMs
		if result.TokenType != "" {
			c.TokenType = result.TokenType
		}
		if result.Scope != "" {
			c.Scope = result.Scope
		}
	})

	if !after.Verified() {
		projectID, err := m.http.FetchProjectID(ctx, after.AccessToken, nil, 3)
		if err != nil {
			return Credentials{}, err
		}
		after = acc.mutate(func(c *Credentials) {
			c.ProjectID = projectID
			c.ProjectIDResolvedAt = time.Now().UTC().Format(time.RFC3339)
		})
	}

	if err := writeCredentialFile(acc.FilePath, after); err != nil {
		m.log.Error("failed to persist refreshed credentials", logging.Fields{"account": acc.ID, "error": err.Error()})
	}

	m.refresher.ScheduleRefresh(acc.ID, after.ExpiryDateMs)
	m.log.Success("token refreshed", logging.Fields{"account": acc.ID})
	return after, nil
}

// ensureProjectId resolves and persists acc's project id, short-circuiting
// if it is already verified, and coalescing concurrent resolutions onto a
// single in-flight one.
func (m *Manager) ensureProjectId(ctx context.Context, acc *Account) error {
	if acc.Snapshot().Verified() {
		return nil
	}

	_, err, _ := m.projectGroup.Do(acc.ID, func() (interface{}, error) {
		if acc.Snapshot().Verified() {
			return nil, nil
		}
		token := acc.Snapshot().AccessToken
		projectID, err := m.http.FetchProjectID(ctx, token, nil, 3)
		if err != nil {
			return nil, err
		}
		after := acc.mutate(func(c *Credentials) {
			c.ProjectID = projectID
			c.ProjectIDResolvedAt = time.Now().UTC().Format(time.RFC3339)
		})
		if writeErr := writeCredentialFile(acc.FilePath, after); writeErr != nil {
			m.log.Error("failed to persist resolved project id", logging.Fields{"account": acc.ID, "error": writeErr.Error()})
		}
		return nil, nil
	})
	return err
}

// GetCredentialsByIndex validates index, ensures a fresh token and a
// verified project id, and returns the resulting credentials.
func (m *Manager) GetCredentialsByIndex(ctx context.Context, index int, group Group) (CredentialsResult, error) {
	acc, err := m.accountByIndex(index)
	if err != nil {
		return CredentialsResult{}, err
	}

	creds, err := m.ensureFreshToken(ctx, acc)
	if err != nil {
		return CredentialsResult{}, err
	}

	if err := m.ensureProjectId(ctx, acc); err != nil {
		return CredentialsResult{}, err
	}
	creds = acc.Snapshot()

	return CredentialsResult{AccessToken: creds.AccessToken, ProjectID: creds.ProjectID, Account: acc, AccountIndex: index}, nil
}

// GetAccessTokenByIndex is like GetCredentialsByIndex but skips project-id
// resolution, used by quota sweeps and project-id repair to avoid
// circularity.
func (m *Manager) GetAccessTokenByIndex(ctx context.Context, index int, group Group) (CredentialsResult, error) {
	acc, err := m.accountByIndex(index)
	if err != nil {
		return CredentialsResult{}, err
	}
	creds, err := m.ensureFreshToken(ctx, acc)
	if err != nil {
		return CredentialsResult{}, err
	}
	return CredentialsResult{AccessToken: creds.AccessToken, ProjectID: creds.ProjectID, Account: acc, AccountIndex: index}, nil
}

func (m *Manager) currentIndexFor(group Group) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentIndex[group]
}

// GetCurrentAccessToken returns credentials for the group's current index.
func (m *Manager) GetCurrentAccessToken(ctx context.Context, group Group) (CredentialsResult, error) {
	return m.GetCredentialsByIndex(ctx, m.currentIndexFor(group), group)
}

// GetCredentials is an alias of GetCurrentAccessToken.
func (m *Manager) GetCredentials(ctx context.Context, group Group) (CredentialsResult, error) {
	return m.GetCurrentAccessToken(ctx, group)
}

// AccountCount returns the size of the pool.
func (m *Manager) AccountCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

// FetchAvailableModels is the current-account pass-through used by the
// admin surface, distinct from the sweep's all-accounts variant.
func (m *Manager) FetchAvailableModels(ctx context.Context, group Group) (map[string]httpclient.ModelQuota, error) {
	creds, err := m.GetCurrentAccessToken(ctx, group)
	if err != nil {
		return nil, err
	}
	return m.http.FetchAvailableModels(ctx, creds.AccessToken, creds.ProjectID, m.limiter)
}

// FetchUserInfo looks up the email for the group's current account,
// spaced by the shared v1internal limiter.
func (m *Manager) FetchUserInfo(ctx context.Context, group Group) (string, error) {
	creds, err := m.GetCurrentAccessToken(ctx, group)
	if err != nil {
		return "", err
	}
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return "", errs.NewNetworkError(err)
		}
	}
	return m.http.FetchUserInfo(ctx, creds.AccessToken)
}

// ProjectIDRepairSummary reports the outcome of RefreshAllProjectIds.
type ProjectIDRepairSummary struct {
	OK    int
	Fail  int
	Total int
}

// RefreshAllProjectIds resolves project ids for every unverified account in
// parallel.
func (m *Manager) RefreshAllProjectIds(ctx context.Context) ProjectIDRepairSummary {
	m.mu.RLock()
	accounts := make([]*Account, len(m.accounts))
	copy(accounts, m.accounts)
	m.mu.RUnlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	summary := ProjectIDRepairSummary{Total: len(accounts)}

	for i, acc := range accounts {
		if acc.Snapshot().Verified() {
			mu.Lock()
			summary.OK++
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(index int, a *Account) {
			defer wg.Done()
			if _, err := m.GetAccessTokenByIndex(ctx, index, GroupGemini); err != nil {
				mu.Lock()
				summary.Fail++
				mu.Unlock()
				return
			}
			if err := m.ensureProjectId(ctx, a); err != nil {
				mu.Lock()
				summary.Fail++
				mu.Unlock()
				return
			}
			mu.Lock()
			summary.OK++
			mu.Unlock()
		}(i, acc)
	}

	wg.Wait()
	return summary
}

// AddAccount persists a new (or updated, if the email matches an existing
// slot) account. It refuses to persist an account without a resolved
// project id.
func (m *Manager) AddAccount(ctx context.Context, creds Credentials) error {
	if !creds.Verified() {
		return errs.NewProjectIDUnresolvedError(creds.Email, 0)
	}

	if err := os.MkdirAll(m.authDir, 0o700); err != nil {
		return fmt.Errorf("create auth dir: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if creds.Email != "" && acc.Snapshot().Email == creds.Email {
			acc.set(creds)
			if err := writeCredentialFile(acc.FilePath, creds); err != nil {
				return err
			}
			m.refresher.ScheduleRefresh(acc.ID, creds.ExpiryDateMs)
			return nil
		}
	}

	wasEmpty := len(m.accounts) == 0
	filename := sanitizeEmailFilename(creds.Email)
	path := filepath.Join(m.authDir, filename)
	if err := writeCredentialFile(path, creds); err != nil {
		return err
	}

	acc := newAccount(accountIDFromFilePath(path), path, creds)
	m.accounts = append(m.accounts, acc)
	m.refresher.ScheduleRefresh(acc.ID, creds.ExpiryDateMs)

	if wasEmpty {
		m.currentIndex[GroupClaude] = 0
		m.currentIndex[GroupGemini] = 0
	}
	return nil
}

// DeleteAccountByFile removes the account backed by fileName, cancels its
// refresh timer, unlinks the file, and adjusts both group indices so
// neither silently jumps across surviving accounts.
func (m *Manager) DeleteAccountByFile(fileName string) error {
	if !validDeleteFilename(fileName) {
		return fmt.Errorf("invalid credential file name: %q", fileName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removedIndex := -1
	for i, acc := range m.accounts {
		if filepath.Base(acc.FilePath) == fileName {
			removedIndex = i
			break
		}
	}
	if removedIndex == -1 {
		return fmt.Errorf("account file not found: %q", fileName)
	}

	acc := m.accounts[removedIndex]
	m.refresher.CancelRefresh(acc.ID)
	if err := os.Remove(acc.FilePath); err != nil && !os.IsNotExist(err) {
		return err
	}

	m.accounts = append(m.accounts[:removedIndex], m.accounts[removedIndex+1:]...)

	for _, group := range []Group{GroupClaude, GroupGemini} {
		m.currentIndex[group] = adjustIndexAfterDeletion(m.currentIndex[group], removedIndex, len(m.accounts))
	}

	return nil
}

func adjustIndexAfterDeletion(current, removed, newLen int) int {
	if newLen == 0 {
		return 0
	}
	switch {
	case removed < current:
		current--
	case removed == current:
		// the current slot itself is gone: move to the last valid slot
		current = newLen - 1
	default:
		// removed > current: unchanged
	}
	if current >= newLen {
		return newLen - 1
	}
	if current < 0 {
		return 0
	}
	return current
}
