package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Result {
	t.Helper()
	var body Result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func ok(context.Context) error { return nil }

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "discord", Check: func(context.Context) error { return errors.New("down") }})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	fail := func(msg string) func(context.Context) error {
		return func(context.Context) error { return errors.New(msg) }
	}

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "discord", Check: ok}, {Name: "ffmpeg", Check: ok}},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"discord": "ok", "ffmpeg": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{Name: "discord", Check: fail("gateway closed")}, {Name: "ffmpeg", Check: ok}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"discord": "fail: gateway closed", "ffmpeg": "ok"},
		},
		{
			name:       "all fail",
			checkers:   []Checker{{Name: "ffmpeg", Check: fail("missing")}, {Name: "recordings", Check: fail("read-only")}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"ffmpeg": "fail: missing", "recordings": "fail: read-only"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			New(tc.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			body := decode(t, rec)
			wantStatus := "ok"
			if tc.wantStatus != http.StatusOK {
				wantStatus = "fail"
			}
			if body.Status != wantStatus {
				t.Errorf("status = %q, want %q", body.Status, wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: ok}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestBinary(t *testing.T) {
	t.Parallel()
	if err := Binary("sh", "sh").Check(t.Context()); err != nil {
		t.Errorf("sh should be resolvable: %v", err)
	}
	if err := Binary("ffmpeg", "/nonexistent/ffmpeg").Check(t.Context()); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestWritableDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if err := WritableDir("recordings", dir).Check(t.Context()); err != nil {
		t.Errorf("temp dir should be writable: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}

	if err := WritableDir("recordings", filepath.Join(dir, "missing")).Check(t.Context()); err == nil {
		t.Error("expected error for missing dir")
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	err := WritableDir("recordings", file).Check(t.Context())
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("expected not-a-directory error, got %v", err)
	}
}

func TestReady(t *testing.T) {
	t.Parallel()
	var up atomic.Bool
	c := Ready("discord", "gateway not connected", up.Load)

	if err := c.Check(t.Context()); err == nil || err.Error() != "gateway not connected" {
		t.Errorf("expected not-connected error, got %v", err)
	}
	up.Store(true)
	if err := c.Check(t.Context()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
