// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/aplane-algo/apbridge/internal/util"
)

// ActiveWallet is the user's wallet selection
type ActiveWallet struct {
	Address string  `yaml:"address,omitempty"`
	Backend Backend `yaml:"backend"`
	Label   string  `yaml:"label,omitempty"`
}

// ActiveWalletFile reads the selection from a YAML file. A missing file
// selects the embedded backend with no pinned address.
type ActiveWalletFile struct {
	path string

	mu      sync.RWMutex
	current ActiveWallet
}

// OpenActiveWallet loads the selection at path.
func OpenActiveWallet(path string) (*ActiveWalletFile, error) {
	f := &ActiveWalletFile{path: path}
	if _, err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the backing file path.
func (f *ActiveWalletFile) Path() string {
	return f.path
}

// Current returns the last loaded selection.
func (f *ActiveWalletFile) Current() (ActiveWallet, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current, nil
}

// Reload re-reads the file and reports whether the selection changed.
func (f *ActiveWalletFile) Reload() (bool, error) {
	w, err := readActiveWallet(f.path)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	changed := w != f.current
	f.current = w
	return changed, nil
}

func readActiveWallet(path string) (ActiveWallet, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ActiveWallet{Backend: BackendEmbedded}, nil
	}
	if err != nil {
		return ActiveWallet{}, fmt.Errorf("failed to read active wallet: %w", err)
	}

	var w ActiveWallet
	if err := yaml.Unmarshal(data, &w); err != nil {
		return ActiveWallet{}, fmt.Errorf("failed to parse active wallet %s: %w", path, err)
	}
	backend, err := ParseBackend(string(w.Backend))
	if err != nil {
		return ActiveWallet{}, err
	}
	w.Backend = backend
	if w.Address != "" {
		if _, err := ValidateAccount(w.Address, nil); err != nil {
			return ActiveWallet{}, err
		}
	}
	return w, nil
}

// SaveActiveWallet writes a selection. Used by the explicit select command.
func SaveActiveWallet(path string, w ActiveWallet) error {
	if _, err := ParseBackend(string(w.Backend)); err != nil {
		return err
	}
	data, err := yaml.Marshal(w)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write active wallet: %w", err)
	}
	return os.Rename(tmp, path)
}

// Watch reloads the file on change and calls onChange with the new selection
// when it differs. It returns after the watcher is installed.
func (f *ActiveWalletFile) Watch(ctx context.Context, onChange func(ActiveWallet)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory so atomic replacements are seen
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to create wallet directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		var debounce *time.Timer
		const debounceDelay = 200 * time.Millisecond
		name := filepath.Clean(f.path)

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					changed, err := f.Reload()
					if err != nil {
						util.Logger.Warnw("active wallet reload failed, keeping previous selection", "error", err)
						return
					}
					if changed {
						w, _ := f.Current()
						onChange(w)
					}
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				util.Logger.Warnw("active wallet watcher error", "error", err)
			}
		}
	}()

	return nil
}
