package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/glyphrec/internal/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version.Full() {
		t.Errorf("output = %q, want %q", out, version.Full())
	}
}

func TestSweepCmd(t *testing.T) {
	staging := t.TempDir()
	for _, name := range []string{"a.pcm", "b.pcm", "keep.mp3"} {
		if err := os.WriteFile(filepath.Join(staging, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := writeConfig(t, "recording:\n  staging_dir: "+staging+"\n")

	out, err := execute(t, "sweep", "--config", cfg, "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "removed 2 staging file(s)") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(staging, "keep.mp3")); err != nil {
		t.Errorf("non-staging file removed: %v", err)
	}
}

func TestSweepCmd_MissingConfigUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "sweep", "--config", "absent.yaml")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "removed 0 staging file(s) from "+filepath.Join("recordings", ".staging")) {
		t.Errorf("output = %q", out)
	}
}

func TestServeCmd_MissingConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "serve", "--config", "absent.yaml")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want config not found", err)
	}
}

func TestTranscodeCmd_RequiresTwoArgs(t *testing.T) {
	if _, err := execute(t, "transcode", "only-one.pcm"); err == nil {
		t.Error("expected argument error")
	}
}

func TestTranscodeCmd_MissingFFmpeg(t *testing.T) {
	cfg := writeConfig(t, "recording:\n  ffmpeg_path: /nonexistent/ffmpeg\n")
	dir := t.TempDir()

	_, err := execute(t, "transcode", "--config", cfg, filepath.Join(dir, "in.pcm"), filepath.Join(dir, "out.mp3"))
	if err == nil || !strings.Contains(err.Error(), "ffmpeg not found") {
		t.Errorf("err = %v, want ffmpeg not found", err)
	}
}
