package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"lnm/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	Events        int
	Imports       int
	Errors        int
	LastImport    time.Time
	LastImportErr string
}

// Watcher imports dump files as they appear or change in a directory.
// Rapid successive writes to one file are debounced into a single import.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	importer    *Importer
	dir         string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	onImport    func(path string, report *Report, err error)
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       WatcherStats
}

// NewWatcher creates a watcher on dir. onImport, when set, is called after
// every import attempt.
func NewWatcher(dir string, importer *Importer, debounce time.Duration, onImport func(string, *Report, error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:     fw,
		importer:    importer,
		dir:         dir,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		onImport:    onImport,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.Ingest("watching %s for dumps", w.dir)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.IngestError("watcher: close: %v", err)
	}
	logging.Ingest("watcher stopped")
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounceDur / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.IngestError("watcher: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.processSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	logging.IngestDebug("watcher: %s %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()
	sort.Strings(settled)

	for _, path := range settled {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		report, err := w.importer.ImportFiles(ctx, []string{path})

		w.mu.Lock()
		w.stats.Imports++
		w.stats.LastImport = time.Now()
		w.stats.LastImportErr = ""
		if err != nil {
			w.stats.Errors++
			w.stats.LastImportErr = err.Error()
		}
		w.mu.Unlock()

		if err != nil {
			logging.IngestError("watcher: import %s: %v", path, err)
		}
		if w.onImport != nil {
			w.onImport(path, report, err)
		}
	}
}
