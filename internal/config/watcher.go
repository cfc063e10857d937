package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the config file and reports every valid edit to a callback,
// so hot-reloadable settings (log level, include_bots, voice) apply to a
// running recorder. An invalid edit is logged and skipped; the last valid
// config stays current until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// mu serializes checks and guards current and seen.
	mu      sync.Mutex
	current *Config
	seen    fileVersion

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// fileVersion identifies the content of the config file last looked at,
// valid or not.
type fileVersion struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads and validates the config at path and starts polling it.
// onChange may be nil. It runs on the polling goroutine, outside the
// watcher's lock.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, v, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.seen = cfg, v

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for a running check to finish. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.Check()
		}
	}
}

// Check looks at the file once and reports whether a new valid config was
// applied. The polling loop calls it; tests call it directly.
func (w *Watcher) Check() bool {
	w.mu.Lock()
	st, err := os.Stat(w.path)
	if err != nil {
		w.mu.Unlock()
		slog.Warn("config: watcher cannot stat file", "path", w.path, "err", err)
		return false
	}
	if st.ModTime().Equal(w.seen.modTime) && st.Size() == w.seen.size {
		w.mu.Unlock()
		return false
	}

	cfg, v, err := w.read()
	if v.sum == w.seen.sum {
		// Touched, or rewritten with identical content.
		w.seen = v
		w.mu.Unlock()
		return false
	}
	w.seen = v
	if err != nil {
		w.mu.Unlock()
		slog.Warn("config: ignoring invalid edit, keeping previous config", "path", w.path, "err", err)
		return false
	}
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true
}

// read loads the file and returns its version even when the content does
// not decode or validate, so the same broken edit is reported only once.
func (w *Watcher) read() (*Config, fileVersion, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileVersion{}, err
	}
	v := fileVersion{size: int64(len(data)), sum: sha256.Sum256(data)}
	if st, err := os.Stat(w.path); err == nil {
		v.modTime = st.ModTime()
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	return cfg, v, err
}
