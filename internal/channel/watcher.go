package channel

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"timeclerk/internal/logging"
)

// PolicyWatcher reloads the formatter's policy table when the policy
// file changes on disk, so channel limits can be tuned without a restart.
type PolicyWatcher struct {
	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	formatter  *Formatter
	policyPath string
	lastReload time.Time
	debounce   time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	running    bool
}

// NewPolicyWatcher creates a watcher for the given policy file.
func NewPolicyWatcher(policyPath string, formatter *Formatter) (*PolicyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PolicyWatcher{
		watcher:    watcher,
		formatter:  formatter,
		policyPath: policyPath,
		debounce:   500 * time.Millisecond, // editors fire several events per save
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking.
func (w *PolicyWatcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory: editors often replace the file, which drops
	// a watch set on the file itself.
	if err := w.watcher.Add(filepath.Dir(w.policyPath)); err != nil {
		return err
	}

	go w.loop()
	logging.Get(logging.CategoryFormatter).Info("watching policy file %s", w.policyPath)
	return nil
}

func (w *PolicyWatcher) loop() {
	defer close(w.doneCh)
	log := logging.Get(logging.CategoryFormatter)

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.policyPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			w.mu.Lock()
			if time.Since(w.lastReload) < w.debounce {
				w.mu.Unlock()
				continue
			}
			w.lastReload = time.Now()
			w.mu.Unlock()

			table, err := LoadPolicyTable(w.policyPath)
			if err != nil {
				// Keep the last good table; a broken edit must not take
				// formatting down.
				log.Error("policy reload rejected: %v", err)
				continue
			}
			if err := w.formatter.Reload(table); err != nil {
				log.Error("policy reload rejected: %v", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error("policy watcher error: %v", err)
		}
	}
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *PolicyWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
}
