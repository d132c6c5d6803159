package account

// AccountSummary is the public view of one pool slot.
type AccountSummary struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Verified bool   `json:"verified"`
}

// Summary is the admin-facing status view. An empty pool reports
// {count:0, current:{claude:0,gemini:0}, accounts:[]}.
type Summary struct {
	Count    int              `json:"count"`
	Current  map[Group]int    `json:"current"`
	Accounts []AccountSummary `json:"accounts"`
}

// Summary builds the current status view of the pool.
func (m *Manager) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := make([]AccountSummary, 0, len(m.accounts))
	for i, acc := range m.accounts {
		creds := acc.Snapshot()
		accounts = append(accounts, AccountSummary{
			Index:    i,
			ID:       acc.ID,
			Email:    creds.Email,
			Verified: creds.Verified(),
		})
	}

	return Summary{
		Count: len(m.accounts),
		Current: map[Group]int{
			GroupClaude: m.currentIndex[GroupClaude],
			GroupGemini: m.currentIndex[GroupGemini],
		},
		Accounts: accounts,
	}
}

// GetStatus is an alias of Summary, the name the admin surface uses.
func (m *Manager) GetStatus() Summary {
	return m.Summary()
}
