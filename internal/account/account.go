// Package account implements the Account & Credential Manager: loading
// accounts from disk, background token refresh, project-id discovery and
// repair, per-account refresh coalescing, and group-partitioned
// current-index bookkeeping.
package account

import "sync"

// Group is a quota group: independent current-index and model-name
// inference bucket.
type Group string

const (
	GroupClaude Group = "claude"
	GroupGemini Group = "gemini"
)

// Credentials is the mutable OAuth record for one account.
type Credentials struct {
	AccessToken         string `json:"access_token"`
	RefreshToken        string `json:"refresh_token"`
	ExpiryDateMs        int64  `json:"expiry_date"`
	TokenType           string `json:"token_type,omitempty"`
	Scope               string `json:"scope,omitempty"`
	Email               string `json:"email,omitempty"`
	ProjectID           string `json:"projectId,omitempty"`
	ProjectIDResolvedAt string `json:"projectIdResolvedAt,omitempty"`
}

// Verified reports whether ProjectID was authoritatively resolved by this
// gateway, rather than inherited unchecked from the credential file.
func (c Credentials) Verified() bool {
	return c.ProjectID != "" && c.ProjectIDResolvedAt != ""
}

// Account is one slot in the rotation pool.
type Account struct {
	// ID is the stable identifier: the credential file's base name
	// (without extension).
	ID       string
	FilePath string

	mu    sync.RWMutex
	creds Credentials
}

func newAccount(id, filePath string, creds Credentials) *Account {
	return &Account{ID: id, FilePath: filePath, creds: creds}
}

// Snapshot returns a copy of the account's current credentials.
func (a *Account) Snapshot() Credentials {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.creds
}

func (a *Account) set(creds Credentials) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = creds
}

func (a *Account) mutate(fn func(*Credentials)) Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.creds)
	return a.creds
}
