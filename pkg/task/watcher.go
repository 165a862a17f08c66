package task

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads definition files into a catalog when they change
type Watcher struct {
	watcher  *fsnotify.Watcher
	catalog  *Catalog
	logger   zerolog.Logger
	debounce time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	onApply func(path string, report *LoadReport, err error)
	stopCh  chan struct{}
}

// NewWatcher creates a watcher. onApply, if set, is called after every
// reload attempt.
func NewWatcher(catalog *Catalog, logger zerolog.Logger, onApply func(string, *LoadReport, error)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  watcher,
		catalog:  catalog,
		logger:   logger.With().Str("component", "task-watcher").Logger(),
		debounce: 500 * time.Millisecond,
		timers:   make(map[string]*time.Timer),
		onApply:  onApply,
		stopCh:   make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Watch loads every definition file in dir, then watches it for changes
func (w *Watcher) Watch(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if isDefinitionFile(path) {
			w.reload(path)
		}
	}
	return w.watcher.Add(dir)
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	close(w.stopCh)
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Definition change detected")
				w.schedule(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("File watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// schedule debounces reloads per file
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.reload(path)
	})
}

func (w *Watcher) reload(path string) {
	defs, err := LoadFile(path)
	var report *LoadReport
	if err == nil {
		report, err = w.catalog.Apply(context.Background(), defs)
	}

	if err != nil {
		w.logger.Error().Err(err).Str("file", filepath.Base(path)).Msg("Failed to load definitions")
	} else {
		ev := w.logger.Info().Str("file", filepath.Base(path)).Int("tools", report.Tools).Int("tasks", report.Tasks)
		if len(report.InvalidTools) > 0 {
			ev = ev.Interface("invalid_tools", report.InvalidTools)
		}
		ev.Msg("Definitions loaded")
	}

	if w.onApply != nil {
		w.onApply(path, report, err)
	}
}

func isDefinitionFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
