// Package upstream tracks the external backend URLs the gateway is configured
// to know about. Entries come from two independent sources, an environment
// CSV and an optional JSON file, merged by simple append without
// deduplication.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Upstream describes one external backend.
type Upstream struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// fileConfig is the shape of the optional upstream config file.
type fileConfig struct {
	Servers []struct {
		Label string `json:"label"`
		URL   string `json:"url"`
	} `json:"servers"`
}

// Registry holds the merged upstream list. Env-sourced entries are loaded
// once; file-sourced entries are replaced wholesale when the file is
// re-loaded so a watched file does not accumulate duplicates of itself.
type Registry struct {
	mu       sync.RWMutex
	fromEnv  []Upstream
	fromFile []Upstream
	log      *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger falls back to
// slog.Default().
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log}
}

// LoadFromEnv appends one upstream per non-empty CSV entry, labelled
// upstream_1, upstream_2, ... in list order.
func (r *Registry) LoadFromEnv(csv string) {
	if csv == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n++
		r.fromEnv = append(r.fromEnv, Upstream{Label: fmt.Sprintf("upstream_%d", n), URL: part})
	}
}

// LoadFromFile replaces the file-sourced entries with the servers listed in
// the JSON file at path. A missing file is not an error; the file is
// optional. Entries without a url are skipped; a missing label defaults to
// the url.
func (r *Registry) LoadFromFile(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read upstream config %s: %w", path, err)
	}
	var cfg fileConfig
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse upstream config %s: %w", path, err)
	}
	loaded := make([]Upstream, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if s.URL == "" {
			continue
		}
		label := s.Label
		if label == "" {
			label = s.URL
		}
		loaded = append(loaded, Upstream{Label: label, URL: s.URL})
	}
	r.mu.Lock()
	r.fromFile = loaded
	r.mu.Unlock()
	return nil
}

// Snapshot returns the merged list, env entries first, then file entries.
func (r *Registry) Snapshot() []Upstream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Upstream, 0, len(r.fromEnv)+len(r.fromFile))
	out = append(out, r.fromEnv...)
	out = append(out, r.fromFile...)
	return out
}

// Watch re-loads the config file whenever it changes on disk, until ctx is
// canceled. The parent directory is watched rather than the file itself so
// atomic rename-into-place edits are seen.
func (r *Registry) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := r.LoadFromFile(path); err != nil {
				r.log.WarnContext(ctx, "upstream.reload.fail", slog.String("err", err.Error()))
				continue
			}
			r.log.InfoContext(ctx, "upstream.reload.ok", slog.Int("count", len(r.Snapshot())))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.WarnContext(ctx, "upstream.watch.err", slog.String("err", err.Error()))
		}
	}
}
