// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// TrustedOrigin records a page domain whose connect request the user accepted
type TrustedOrigin struct {
	Domain      string    `json:"domain"`
	WebsiteName string    `json:"websiteName,omitempty"`
	GrantedAt   time.Time `json:"grantedAt"`
}

type originsFile struct {
	Origins []TrustedOrigin `json:"origins"`
}

// TrustedOrigins is a JSON file backed set of trusted page domains.
// An empty path keeps the set in memory only.
type TrustedOrigins struct {
	mu      sync.RWMutex
	path    string
	origins map[string]TrustedOrigin
}

// LoadTrustedOrigins opens the store at path. A missing file is an empty store.
func LoadTrustedOrigins(path string) (*TrustedOrigins, error) {
	t := &TrustedOrigins{path: path, origins: make(map[string]TrustedOrigin)}
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trusted origins: %w", err)
	}

	var f originsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse trusted origins %s: %w", path, err)
	}
	for _, o := range f.Origins {
		key := normalizeDomain(o.Domain)
		if key == "" {
			continue
		}
		o.Domain = key
		t.origins[key] = o
	}
	return t, nil
}

// IsTrusted reports whether domain has been trusted.
func (t *TrustedOrigins) IsTrusted(domain string) bool {
	key := normalizeDomain(domain)
	if key == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.origins[key]
	return ok
}

// Trust adds domain to the store and persists it.
func (t *TrustedOrigins) Trust(domain, websiteName string) error {
	key := normalizeDomain(domain)
	if key == "" {
		return fmt.Errorf("empty origin domain")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.origins[key] = TrustedOrigin{Domain: key, WebsiteName: websiteName, GrantedAt: time.Now().UTC()}
	return t.saveLocked()
}

// Revoke removes domain. Returns false if it was not trusted.
func (t *TrustedOrigins) Revoke(domain string) (bool, error) {
	key := normalizeDomain(domain)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.origins[key]; !ok {
		return false, nil
	}
	delete(t.origins, key)
	return true, t.saveLocked()
}

// RevokeAll clears the store.
func (t *TrustedOrigins) RevokeAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.origins = make(map[string]TrustedOrigin)
	return t.saveLocked()
}

// List returns the trusted origins sorted by domain.
func (t *TrustedOrigins) List() []TrustedOrigin {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TrustedOrigin, 0, len(t.origins))
	for _, o := range t.origins {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// saveLocked writes the store atomically. Caller holds t.mu.
func (t *TrustedOrigins) saveLocked() error {
	if t.path == "" {
		return nil
	}

	f := originsFile{Origins: make([]TrustedOrigin, 0, len(t.origins))}
	for _, o := range t.origins {
		f.Origins = append(f.Origins, o)
	}
	sort.Slice(f.Origins, func(i, j int) bool { return f.Origins[i].Domain < f.Origins[j].Domain })

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0700); err != nil {
		return fmt.Errorf("failed to create directory for trusted origins: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write trusted origins: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace trusted origins: %w", err)
	}
	return nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
