package mapping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"surveyfill/internal/logging"
)

// ReloadFunc receives the freshly loaded ruleset after a successful
// reload.
type ReloadFunc func(rs *Ruleset)

// Watcher reloads the mapping file when it changes on disk, so a long
// batch run picks up operator fixes between rows. A reload that fails
// to parse keeps the previous ruleset in place.
type Watcher struct {
	mu       sync.Mutex
	path     string
	onReload ReloadFunc
	watcher  *fsnotify.Watcher

	debounceMu  sync.Mutex
	debounceMap map[string]*time.Timer
	debounceDur time.Duration

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher for one mapping file. Start must be
// called before events flow.
func NewWatcher(path string, onReload ReloadFunc) *Watcher {
	return &Watcher{
		path:        path,
		onReload:    onReload,
		debounceMap: make(map[string]*time.Timer),
		debounceDur: 500 * time.Millisecond,
	}
}

// Start begins watching. It is an error to start twice.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(w.path); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.eventLoop(ctx)

	logging.Get(logging.CategoryMapping).Info("watching mapping file: %s", w.path)
	return nil
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.watcher.Close()
	doneCh := w.doneCh
	w.mu.Unlock()

	<-doneCh

	w.debounceMu.Lock()
	for _, t := range w.debounceMap {
		t.Stop()
	}
	w.debounceMap = make(map[string]*time.Timer)
	w.debounceMu.Unlock()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)

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
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.debounce(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryMapping).Warn("watch error: %v", err)
		}
	}
}

// debounce coalesces the bursts of write events editors produce into a
// single reload per settle window.
func (w *Watcher) debounce(name string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceMap[name]; ok {
		t.Stop()
	}
	w.debounceMap[name] = time.AfterFunc(w.debounceDur, func() {
		w.debounceMu.Lock()
		delete(w.debounceMap, name)
		w.debounceMu.Unlock()
		w.reload()
	})
}

func (w *Watcher) reload() {
	log := logging.Get(logging.CategoryMapping)

	rs, err := Load(w.path)
	if err != nil {
		log.Warn("mapping reload failed, keeping previous rules: %v", err)
		return
	}
	log.Info("mapping reloaded: %d rules", len(rs.Rules))
	if w.onReload != nil {
		w.onReload(rs)
	}
}
