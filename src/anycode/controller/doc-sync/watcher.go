package docsync

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

func msec(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// watcher reloads tracked documents when their file is written by another process.
type watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	reload   func(path string)
	logger   *zap.SugaredLogger

	tracked   map[string]struct{}
	dirs      map[string]struct{}
	trackedMu sync.Mutex

	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	pending        sync.WaitGroup

	running atomic.Bool
	closer  chan struct{}
	done    chan struct{}
}

func newWatcher(logger *zap.SugaredLogger, debounce time.Duration, reload func(path string)) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &watcher{
		fsw:            fsw,
		debounce:       debounce,
		reload:         reload,
		logger:         logger,
		tracked:        make(map[string]struct{}),
		dirs:           make(map[string]struct{}),
		debounceTimers: make(map[string]*time.Timer),
		closer:         make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

// track starts watching the directory of path for changes to path.
func (w *watcher) track(path string) error {
	w.trackedMu.Lock()
	defer w.trackedMu.Unlock()

	w.tracked[path] = struct{}{}
	dir := filepath.Dir(path)
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = struct{}{}
	return nil
}

func (w *watcher) isTracked(path string) bool {
	w.trackedMu.Lock()
	defer w.trackedMu.Unlock()
	_, ok := w.tracked[path]
	return ok
}

func (w *watcher) start() {
	w.running.Store(true)
	go w.handleChanges()
}

func (w *watcher) handleChanges() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			w.handleDebounce(event.Name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("Failure in document change watcher: %v", err)

		case <-w.closer:
			return
		}
	}
}

// handleDebounce coalesces bursts of events on one file into a single reload.
func (w *watcher) handleDebounce(path string) {
	if !w.isTracked(path) {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[path]; exists && timer.Stop() {
		w.pending.Done()
	}
	w.pending.Add(1)
	w.debounceTimers[path] = time.AfterFunc(w.debounce, func() {
		defer w.pending.Done()
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.reload(path)
	})
}

// close stops the event loop, cancels pending reloads and waits for running ones.
func (w *watcher) close() error {
	select {
	case <-w.closer:
		return nil
	default:
		close(w.closer)
	}

	err := w.fsw.Close()
	if w.running.Load() {
		<-w.done
	}

	w.debounceMu.Lock()
	for path, timer := range w.debounceTimers {
		if timer.Stop() {
			w.pending.Done()
		}
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()

	w.pending.Wait()
	return err
}
