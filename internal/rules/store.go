// Package rules implements the user-defined allow/block policy: a
// first-match-wins rule list with durable persistence.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/constripacity/SentryBar/internal/integrity"
	"github.com/constripacity/SentryBar/internal/logging"
	"github.com/constripacity/SentryBar/internal/models"
)

// storeMode restricts the rule file to owner read/write. Rules reveal
// which applications the user monitors, so the store is not world
// readable.
const storeMode os.FileMode = 0600

// Store persists the full rule list to a single JSON file with a
// BLAKE3 checksum sidecar. Every mutation rewrites the whole file.
type Store struct {
	path string
	log  *logging.Logger
}

// NewStore creates a store persisting at path.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		log:  logging.RulesLogger(),
	}
}

// Path returns the store file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted rule list. A missing file yields an empty
// list; corrupt content (bad JSON or checksum mismatch) is an error the
// engine converts into an empty in-memory set.
func (s *Store) Load() ([]*models.ConnectionRule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rule store: %w", err)
	}

	if err := integrity.VerifySidecar(s.path, data); err != nil {
		return nil, fmt.Errorf("rule store corrupt: %w", err)
	}

	var rules []*models.ConnectionRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("rule store corrupt: %w", err)
	}

	return rules, nil
}

// Save serializes the full rule list. The file is written to a
// temporary sibling and renamed into place so readers never observe a
// torn write, and permissions are restricted to owner-only on every
// write.
func (s *Store) Save(rules []*models.ConnectionRule) error {
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, storeMode); err != nil {
		return fmt.Errorf("write rule store: %w", err)
	}
	// WriteFile applies the mode only at creation; re-assert it in case
	// the temp file survived a previous crash with wider permissions.
	if err := os.Chmod(tmp, storeMode); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod rule store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace rule store: %w", err)
	}

	if err := integrity.WriteSidecar(s.path, data, storeMode); err != nil {
		// The store itself is intact; a stale sidecar would fail the
		// next load, so remove it rather than leave a mismatch behind.
		os.Remove(integrity.SidecarPath(s.path))
		s.log.Warn("checksum sidecar write failed", logging.Err(err))
	}

	return nil
}

// Watch invokes onChange whenever the store file is rewritten on disk
// by another process, until ctx is cancelled. Rename-based writes (our
// own save path included) surface as Create events on the watched
// directory.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()

		// Coalesce bursts: editors and our own rename dance produce
		// several events per logical change.
		var pending *time.Timer

		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != s.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, onChange)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("rule store watcher error", logging.Err(err))
			}
		}
	}()

	return nil
}
