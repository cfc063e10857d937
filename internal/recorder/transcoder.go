package recorder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/glyphrec/internal/observe"
	"github.com/MrWong99/glyphrec/pkg/audio"
	"github.com/MrWong99/glyphrec/pkg/audio/opus"
)

// Job describes one staging file to transcode.
type Job struct {
	// Input is the raw PCM staging file.
	Input string

	GuildID     string
	DisplayName string

	// StartedAt is when the speaker stream began; it names the output.
	StartedAt time.Time
}

// Transcoder converts a finished staging file into a compressed artifact.
// Implementations delete Input whether or not they succeed.
type Transcoder interface {
	Transcode(ctx context.Context, job Job) (string, error)
}

// muxers maps an output extension to the ffmpeg muxer writing it.
var muxers = map[string]string{
	"mp3":  "mp3",
	"ogg":  "ogg",
	"opus": "opus",
	"flac": "flac",
	"wav":  "wav",
}

// SupportedFormat reports whether format is a valid output extension.
func SupportedFormat(format string) bool {
	_, ok := muxers[format]
	return ok
}

// FFmpegConfig configures [FFmpeg].
type FFmpegConfig struct {
	// Binary is the ffmpeg executable. Default: "ffmpeg" from PATH.
	Binary string

	// OutputDir receives finished artifacts.
	OutputDir string

	// Format is the output extension, one of mp3, ogg, opus, flac, wav.
	// Default: mp3.
	Format string

	// Bitrate is passed as -b:a when set, e.g. "128k".
	Bitrate string

	// Input is the staging PCM format. Default: 48 kHz stereo.
	Input audio.Format

	// Metrics receives transcode latency. Default: observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// runFunc executes a command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpeg is a [Transcoder] shelling out to the ffmpeg binary.
type FFmpeg struct {
	cfg FFmpegConfig
	run runFunc

	mu       sync.Mutex
	reserved map[string]struct{} // output paths of running transcodes
}

var _ Transcoder = (*FFmpeg)(nil)

// NewFFmpeg creates an ffmpeg-backed transcoder.
func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	if cfg.Input.SampleRate == 0 {
		cfg.Input = opus.Format
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &FFmpeg{cfg: cfg, run: execRun, reserved: make(map[string]struct{})}
}

// Check reports whether the ffmpeg binary can be found.
func (f *FFmpeg) Check(context.Context) error {
	if _, err := exec.LookPath(f.cfg.Binary); err != nil {
		return fmt.Errorf("ffmpeg not found (%s): %w", f.cfg.Binary, err)
	}
	return nil
}

// OutputPath returns where a job's artifact is written:
// {OutputDir}/{guildID}-{displayName}-{startMillis}.{format}.
func (f *FFmpeg) OutputPath(job Job) string {
	return OutputPath(f.cfg.OutputDir, job.GuildID, job.DisplayName, job.StartedAt, f.cfg.Format)
}

// OutputPath builds the artifact path for a speaker recording. The display
// name is sanitized so it cannot escape dir.
func OutputPath(dir, guildID, displayName string, startedAt time.Time, ext string) string {
	name := fmt.Sprintf("%s-%s-%d.%s",
		SanitizeName(guildID), SanitizeName(displayName), startedAt.UnixMilli(), ext)
	return filepath.Join(dir, name)
}

// reserve claims the artifact path for job. Speakers whose names sanitize
// alike can start in the same millisecond, so a path held by a running
// transcode or taken by an existing file gets a numeric suffix:
// {guildID}-{displayName}-{startMillis}-2.{format}.
func (f *FFmpeg) reserve(job Job) string {
	base := f.OutputPath(job)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	f.mu.Lock()
	defer f.mu.Unlock()
	path := base
	for n := 2; ; n++ {
		if _, held := f.reserved[path]; !held {
			if _, err := os.Lstat(path); err != nil {
				break
			}
		}
		path = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
	f.reserved[path] = struct{}{}
	return path
}

func (f *FFmpeg) release(path string) {
	f.mu.Lock()
	delete(f.reserved, path)
	f.mu.Unlock()
}

// Transcode implements [Transcoder]. The staging file is removed on every
// path. An empty staging file fails with [ErrNoAudio]. Concurrent jobs never
// share an output path and never replace an existing artifact.
func (f *FFmpeg) Transcode(ctx context.Context, job Job) (out string, err error) {
	ctx, span := observe.StartSpan(ctx, "recorder.transcode", trace.WithAttributes(
		attribute.String("guild_id", job.GuildID),
		attribute.String("input", job.Input),
	))
	defer func() { observe.EndSpan(span, err) }()

	defer func() {
		if rmErr := os.Remove(job.Input); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			observe.Logger(ctx).Warn("recorder: remove staging file", "path", job.Input, "error", rmErr)
		}
	}()

	st, err := os.Stat(job.Input)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscode, err)
	}
	if st.Size() == 0 {
		return "", fmt.Errorf("%w: %w", ErrTranscode, ErrNoAudio)
	}

	path := f.reserve(job)
	defer f.release(path)

	start := time.Now()
	err = f.Convert(ctx, job.Input, path)
	f.cfg.Metrics.TranscodeDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("format", f.cfg.Format)))
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("output", path))
	return path, nil
}

// Convert transcodes the raw PCM file input into output without touching
// input. ffmpeg writes to a temporary name in the output directory which is
// renamed into place on success, so output never exists half-written.
func (f *FFmpeg) Convert(ctx context.Context, input, output string) error {
	ext := strings.TrimPrefix(filepath.Ext(output), ".")
	muxer, ok := muxers[ext]
	if !ok {
		return fmt.Errorf("%w: unsupported output format %q", ErrTranscode, ext)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("%w: create output dir: %w", ErrTranscode, err)
	}
	tmp := filepath.Join(filepath.Dir(output), "."+filepath.Base(output)+".part")

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(f.cfg.Input.SampleRate),
		"-ac", strconv.Itoa(f.cfg.Input.Channels),
		"-i", input,
	}
	if f.cfg.Bitrate != "" && ext != "wav" && ext != "flac" {
		args = append(args, "-b:a", f.cfg.Bitrate)
	}
	args = append(args, "-f", muxer, "-y", tmp)

	if outp, err := f.run(ctx, f.cfg.Binary, args...); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: ffmpeg: %w\n%s", ErrTranscode, err, strings.TrimSpace(string(outp)))
	}
	if err := syncFile(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrTranscode, err)
	}
	if err := os.Rename(tmp, output); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrTranscode, err)
	}
	return nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
