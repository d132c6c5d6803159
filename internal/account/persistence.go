package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var filenameScrub = regexp.MustCompile(`[^a-zA-Z0-9@.]`)

// sanitizeEmailFilename turns an email into `<sanitized-email>.json`,
// scrubbing anything outside [a-zA-Z0-9@.] to an underscore.
func sanitizeEmailFilename(email string) string {
	if strings.TrimSpace(email) == "" {
		return fmt.Sprintf("oauth-%d.json", time.Now().UnixMilli())
	}
	return filenameScrub.ReplaceAllString(email, "_") + ".json"
}

// validDeleteFilename rejects path separators, "..", and anything not
// ending in ".json".
func validDeleteFilename(name string) bool {
	if name == "" || !strings.HasSuffix(name, ".json") {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return true
}

func accountIDFromFilePath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// scanAuthDir reads every *.json file in dir and returns one Account per
// admissible record: it must carry access_token, refresh_token, and at
// least one of token_type/scope.
func scanAuthDir(dir string) ([]*Account, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create auth dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read auth dir: %w", err)
	}

	var accounts []*Account
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		creds, err := readCredentialFile(path)
		if err != nil {
			continue
		}
		if !admissible(creds) {
			continue
		}
		accounts = append(accounts, newAccount(accountIDFromFilePath(path), path, creds))
	}
	return accounts, nil
}

func admissible(c Credentials) bool {
	return c.AccessToken != "" && c.RefreshToken != "" && (c.TokenType != "" || c.Scope != "")
}

func readCredentialFile(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// writeCredentialFile writes creds to path atomically: a temp file in the
// same directory, then rename into place, with restrictive permissions.
// A concurrent reader sees either the old or the new record, never a
// partial one.
func writeCredentialFile(path string, creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
