package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"callpipe/internal/logging"
	"callpipe/internal/services"
)

const reloadDebounce = 250 * time.Millisecond

// Store holds the active rule set.
type Store struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Set]
	reloads atomic.Int64
}

// NewStore loads path, or the built-in set when path is empty.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{path: path, logger: logging.NewComponentLogger(logger, "rules")}
	if path == "" {
		s.current.Store(DefaultSet())
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the active rule set.
func (s *Store) Current() *Set {
	return s.current.Load()
}

// For returns the active rules for campaign.
func (s *Store) For(campaign string) []services.Rule {
	return s.Current().For(campaign)
}

// Version reports the active rule set version.
func (s *Store) Version() string {
	if set := s.Current(); set != nil {
		return set.Version
	}
	return ""
}

// Reloads counts successful reloads after the initial load.
func (s *Store) Reloads() int64 {
	return s.reloads.Load()
}

// Reload re-reads the rule file. The active set is only replaced when the
// new file parses and validates.
func (s *Store) Reload() error {
	if s.path == "" {
		return ErrNoRules
	}
	set, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	if s.current.Swap(set) != nil {
		s.reloads.Add(1)
	}
	s.logger.Info("rules loaded",
		logging.String("path", s.path),
		logging.String("version", set.Version),
		logging.Int("default_rules", len(set.Default)),
		logging.Int("campaigns", len(set.Campaigns)),
	)
	return nil
}

// Watch reloads the rule file whenever it changes until ctx is done. The
// parent directory is watched so editors that replace the file by rename are
// picked up. Watch blocks; run it in its own goroutine.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if _, err := os.Stat(s.path); err != nil {
				continue
			}
			if err := s.Reload(); err != nil {
				logging.WarnWithContext(s.logger, "rules reload failed; keeping previous set", "rules_reload_failed",
					logging.String("path", s.path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "fix the rules file; the previous rules stay active"),
					logging.String(logging.FieldImpact, "quality analysis uses the last valid rule set"),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(s.logger, "rules watcher error", "rules_watch_error", logging.Error(err))
		}
	}
}
