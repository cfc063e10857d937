package recorder_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/glyphrec/internal/recorder"
)

func TestSink_WriteCloseRemove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := recorder.OpenSink(dir, "G1", "u1")
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(s.Path()), "G1-u1-") || filepath.Ext(s.Path()) != ".pcm" {
		t.Errorf("Path() = %q, want G1-u1-*.pcm", s.Path())
	}

	if _, err := s.Write([]byte("abcd")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if s.Size() != 4 {
		t.Errorf("Size() = %d, want 4", s.Size())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.Write([]byte("x")); !errors.Is(err, recorder.ErrWrite) {
		t.Errorf("Write after Close = %v, want ErrWrite", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "abcd" {
		t.Errorf("file content = %q, want %q", data, "abcd")
	}

	if err := s.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(); err != nil {
		t.Errorf("second Remove: %v", err)
	}
	if _, err := os.Stat(s.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("staging file still present: %v", err)
	}
}

func TestSink_DistinctFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := recorder.OpenSink(dir, "G1", "u1")
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer a.Remove()
	b, err := recorder.OpenSink(dir, "G1", "u1")
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer b.Remove()

	if a.Path() == b.Path() {
		t.Errorf("two sinks share path %q", a.Path())
	}
}

func TestSweepStaging(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"a.pcm", "b.pcm", "keep.mp3"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := recorder.SweepStaging(dir)
	if err != nil {
		t.Fatalf("SweepStaging: %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.mp3")); err != nil {
		t.Errorf("non-staging file removed: %v", err)
	}

	n, err = recorder.SweepStaging(filepath.Join(dir, "missing"))
	if err != nil || n != 0 {
		t.Errorf("SweepStaging(missing) = %d, %v; want 0, nil", n, err)
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Alice", "Alice"},
		{"  Bob  ", "Bob"},
		{"../../etc/passwd", "_.._etc_passwd"},
		{`a\b:c*d?e"f<g>h|i`, "a_b_c_d_e_f_g_h_i"},
		{"tab\there", "tab_here"},
		{"...", "unknown"},
		{"", "unknown"},
		{"Zoë 🎲", "Zoë 🎲"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := recorder.SanitizeName(tt.in); got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
