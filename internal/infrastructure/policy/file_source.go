// Package policy provides the file-backed PolicySource: a YAML policy set
// loaded at startup and optionally hot-reloaded on file change. Evaluations
// always see a complete snapshot; a reload swaps the set atomically and a
// malformed edit keeps the last good set.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/logger"
)

// policyFile is the on-disk shape.
type policyFile struct {
	Policies []policyEntry `yaml:"policies"`
}

type policyEntry struct {
	ID            string   `yaml:"id"`
	Principals    []string `yaml:"principals"`
	Actors        []string `yaml:"actors"`
	Targets       []string `yaml:"targets"`
	AutoApprove   []string `yaml:"auto_approve"`
	ManualApprove []string `yaml:"manual_approve"`
	Deny          []string `yaml:"deny"`
	MaxTTL        string   `yaml:"max_ttl"`
}

// FileSource is a PolicySource backed by a YAML file.
type FileSource struct {
	path string
	log  logger.Logger

	mu       sync.RWMutex
	policies []models.Policy

	watcher *fsnotify.Watcher
}

var _ service.PolicySource = (*FileSource)(nil)

// NewFileSource loads the policy file once. Call Watch to enable hot reload.
func NewFileSource(path string, log logger.Logger) (*FileSource, error) {
	s := &FileSource{path: path, log: log.WithComponent("policy-file")}
	policies, err := loadPolicyFile(path)
	if err != nil {
		return nil, err
	}
	s.policies = policies
	return s, nil
}

// Policies returns the current snapshot.
func (s *FileSource) Policies(_ context.Context) ([]models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Policy, len(s.policies))
	copy(out, s.policies)
	return out, nil
}

// Reload re-reads the file and swaps the policy set. A parse failure leaves
// the current set untouched.
func (s *FileSource) Reload(ctx context.Context) error {
	policies, err := loadPolicyFile(s.path)
	if err != nil {
		s.log.Error(ctx, "policy reload failed, keeping previous set", err, logger.Fields{"path": s.path})
		return err
	}
	s.mu.Lock()
	s.policies = policies
	s.mu.Unlock()
	s.log.Info(ctx, "policy set reloaded", logger.Fields{"path": s.path, "count": len(policies)})
	return nil
}

// Watch reloads the policy set whenever the file changes, until ctx is
// cancelled. Editors often replace rather than modify the file, so the parent
// directory is watched and events are filtered by name.
func (s *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = watcher

	go func() {
		defer watcher.Close()
		// Debounce: editors fire bursts of events per save.
		var pending *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(100*time.Millisecond, func() {
					_ = s.Reload(ctx)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Error(ctx, "policy watcher error", err)
			}
		}
	}()
	return nil
}

func loadPolicyFile(path string) ([]models.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	policies := make([]models.Policy, 0, len(file.Policies))
	for i, entry := range file.Policies {
		if entry.ID == "" {
			return nil, fmt.Errorf("policy %d has no id", i)
		}
		p := models.Policy{
			ID:            entry.ID,
			Principals:    entry.Principals,
			Actors:        entry.Actors,
			Targets:       entry.Targets,
			AutoApprove:   entry.AutoApprove,
			ManualApprove: entry.ManualApprove,
			Deny:          entry.Deny,
		}
		if entry.MaxTTL != "" {
			ttl, perr := time.ParseDuration(entry.MaxTTL)
			if perr != nil {
				return nil, fmt.Errorf("policy %s: bad max_ttl %q: %w", entry.ID, entry.MaxTTL, perr)
			}
			p.MaxTTL = ttl
		}
		policies = append(policies, p)
	}
	return policies, nil
}
