package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/glyphrec/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
discord:
  token: test-token
recording:
  dir: /tmp/recordings
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// changeRecorder collects watcher callbacks.
type changeRecorder struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
}

func (r *changeRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diffs = append(r.diffs, config.Diff(old, new))
}

func (r *changeRecorder) Diffs() []config.ConfigDiff {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]config.ConfigDiff(nil), r.diffs...)
}

// newWatcher starts a watcher that never polls on its own; tests drive it
// with Check.
func newWatcher(t *testing.T, initial string) (*config.Watcher, *changeRecorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, initial)
	rec := &changeRecorder{}
	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, rec, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _, _ := newWatcher(t, watcherBaseYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Recording.Dir != "/tmp/recordings" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Recording.StagingDir != filepath.Join("/tmp/recordings", ".staging") {
		t.Errorf("defaults not applied: staging_dir = %q", cfg.Recording.StagingDir)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Error("expected error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server:\n  log_level: bananas\n")
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Error("expected error for an invalid file")
	}
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		edit     string
		applied  bool
		wantDiff config.ConfigDiff
	}{
		{
			name:     "hot-reloadable settings",
			edit:     watcherBaseYAML + "  include_bots: true\n",
			applied:  true,
			wantDiff: config.ConfigDiff{IncludeBotsChanged: true, NewIncludeBots: true},
		},
		{
			name:    "invalid edit",
			edit:    "server:\n  log_level: bananas\ndiscord:\n  token: test-token\n",
			applied: false,
		},
		{
			name:    "unknown key",
			edit:    watcherBaseYAML + "  surprise: 1\n",
			applied: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, rec, path := newWatcher(t, watcherBaseYAML)

			writeFile(t, path, tt.edit)
			if got := w.Check(); got != tt.applied {
				t.Fatalf("Check() = %v, want %v", got, tt.applied)
			}

			diffs := rec.Diffs()
			if !tt.applied {
				if len(diffs) != 0 {
					t.Errorf("callback fired for rejected edit: %+v", diffs)
				}
				if w.Current().Server.LogLevel != config.LogInfo {
					t.Error("previous config not kept")
				}
				return
			}
			if len(diffs) != 1 {
				t.Fatalf("callbacks = %d, want 1", len(diffs))
			}
			d := diffs[0]
			if d.IncludeBotsChanged != tt.wantDiff.IncludeBotsChanged || d.NewIncludeBots != tt.wantDiff.NewIncludeBots {
				t.Errorf("diff = %+v, want %+v", d, tt.wantDiff)
			}
			if !w.Current().Recording.IncludeBots {
				t.Error("Current() not updated")
			}
		})
	}
}

func TestWatcher_BrokenEditReportedOnce(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherBaseYAML)

	writeFile(t, path, "server:\n  log_level: bananas\n")
	w.Check()
	if w.Check() {
		t.Fatal("unchanged broken file applied")
	}

	// Fixing the file applies it.
	writeFile(t, path, "server:\n  log_level: debug\ndiscord:\n  token: test-token\nrecording:\n  dir: /tmp/recordings\n")
	if !w.Check() {
		t.Fatal("fixed file not applied")
	}
	diffs := rec.Diffs()
	if len(diffs) != 1 || !diffs[0].LogLevelChanged || diffs[0].NewLogLevel != config.LogDebug {
		t.Errorf("diffs = %+v", diffs)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherBaseYAML)

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if w.Check() {
		t.Error("touch applied a config")
	}
	if len(rec.Diffs()) != 0 {
		t.Error("callback fired for touch")
	}
}

func TestWatcher_Polls(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherBaseYAML)

	changed := make(chan *config.Config, 1)
	w, err := config.NewWatcher(path, func(_, new *config.Config) {
		select {
		case changed <- new:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, watcherBaseYAML+"  include_bots: true\n")
	select {
	case cfg := <-changed:
		if !cfg.Recording.IncludeBots {
			t.Errorf("callback config lacks the edit: %+v", cfg.Recording)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("edit not picked up by polling")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _, _ := newWatcher(t, watcherBaseYAML)
	w.Stop()
	w.Stop()
}
