// Package spool watches the capture spool for batch manifests. The
// capture side drops one JSON manifest per observation batch; the
// daemon picks each up, runs it through the pipeline, and files it
// under processed/ or failed/.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/norm/timeline-daemon/internal/timeline"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Manifest describes one captured batch awaiting synthesis.
type Manifest struct {
	BatchID     string                `json:"batchId"`
	StartTs     float64               `json:"startTs"`
	EndTs       float64               `json:"endTs"`
	Screenshots []timeline.Screenshot `json:"screenshots"`
	Notes       string                `json:"notes,omitempty"`

	// Path of the manifest file; set on load, not serialized.
	Path string `json:"-"`
}

// Day returns the store day key for the manifest's start.
func (m *Manifest) Day() string {
	return time.Unix(int64(m.StartTs), 0).Format("2006-01-02")
}

// LoadManifest reads and validates a manifest file. A missing batch id
// is filled in rather than rejected; capture clients predate the field.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("spool: read %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("spool: parse %s: %w", path, err)
	}
	if m.EndTs <= m.StartTs {
		return nil, fmt.Errorf("spool: %s: end %.0f not after start %.0f", path, m.EndTs, m.StartTs)
	}
	if len(m.Screenshots) == 0 {
		return nil, fmt.Errorf("spool: %s: no screenshots", path)
	}
	if m.BatchID == "" {
		m.BatchID = uuid.NewString()
	}
	m.Path = path
	return &m, nil
}

// Watcher monitors the spool directory and emits manifests.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher
	events  chan *Manifest

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewWatcher(dir string) (*Watcher, error) {
	for _, sub := range []string{dir, filepath.Join(dir, processedDir), filepath.Join(dir, failedDir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("spool: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}

	return &Watcher{
		dir:     dir,
		watcher: watcher,
		events:  make(chan *Manifest, 64),
		seen:    make(map[string]struct{}),
	}, nil
}

func (w *Watcher) Events() <-chan *Manifest {
	return w.events
}

// Start watches until ctx is done. Manifests already present in the
// spool are emitted first, oldest name first.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("spool: watch %s: %w", w.dir, err)
	}

	if err := w.emitExisting(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			close(w.events)
			return nil
		case err := <-w.watcher.Errors:
			if err != nil {
				return fmt.Errorf("spool: %w", err)
			}
		case event := <-w.watcher.Events:
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.emit(event.Name)
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.forget(event.Name)
			}
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// MarkProcessed moves a handled manifest into processed/.
func (w *Watcher) MarkProcessed(m *Manifest) error {
	return w.move(m, processedDir)
}

// MarkFailed moves a manifest the pipeline gave up on into failed/.
func (w *Watcher) MarkFailed(m *Manifest) error {
	return w.move(m, failedDir)
}

func (w *Watcher) move(m *Manifest, sub string) error {
	dst := filepath.Join(w.dir, sub, filepath.Base(m.Path))
	if err := os.Rename(m.Path, dst); err != nil {
		return fmt.Errorf("spool: move %s: %w", m.Path, err)
	}
	w.forget(m.Path)
	return nil
}

func (w *Watcher) emitExisting() error {
	files, err := filepath.Glob(filepath.Join(w.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	for _, path := range files {
		w.emit(path)
	}
	return nil
}

func (w *Watcher) emit(path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return
	}

	w.mu.Lock()
	if _, ok := w.seen[path]; ok {
		w.mu.Unlock()
		return
	}
	w.seen[path] = struct{}{}
	w.mu.Unlock()

	m, err := LoadManifest(path)
	if err != nil {
		log.Printf("spool: bad manifest %s: %v (skipping)", path, err)
		return
	}

	select {
	case w.events <- m:
	default:
		log.Printf("spool: manifest dropped (channel full): %s", path)
		w.forget(path)
	}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.seen, path)
	w.mu.Unlock()
}
