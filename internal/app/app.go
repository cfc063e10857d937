// Package app wires all glyphrec subsystems into a running application.
//
// The App struct owns the full lifecycle: New prepares the recording
// directories and builds every subsystem, Run serves the HTTP endpoints
// until the context ends, and Shutdown saves all running recordings before
// tearing everything down.
//
// For testing, inject doubles through [Deps] and the functional options
// (WithTranscoder, WithMetrics, ...). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/glyphrec/internal/config"
	"github.com/MrWong99/glyphrec/internal/health"
	"github.com/MrWong99/glyphrec/internal/observe"
	"github.com/MrWong99/glyphrec/internal/recorder"
	"github.com/MrWong99/glyphrec/pkg/audio"
	"github.com/MrWong99/glyphrec/pkg/provider/tts"
)

// Deps holds the platform-facing dependencies of an [App]. They are created
// by main (the Discord bot) or by tests.
type Deps struct {
	Platform  audio.Platform
	Directory audio.Directory

	// TTS synthesizes speech. Nil disables /speak and mentions.
	TTS tts.Provider

	// SelfID is the bot's own user ID; it is never recorded.
	SelfID string

	// Checkers are extra readiness checks, e.g. the gateway connection.
	Checkers []health.Checker

	// MetricsHandler is served at /metrics when set.
	MetricsHandler http.Handler
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	transcoder recorder.Transcoder
	newDecoder func() (recorder.FrameDecoder, error)
	metrics    *observe.Metrics
	level      *slog.LevelVar
	now        func() time.Time

	registry   *recorder.Registry
	conns      *Connections
	recordings *RecordingManager
	speaker    *Speaker
	health     *health.Handler
	server     *http.Server

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscoder injects a transcoder instead of running ffmpeg.
func WithTranscoder(t recorder.Transcoder) Option {
	return func(a *App) { a.transcoder = t }
}

// WithDecoder injects the per-speaker Opus decoder factory.
func WithDecoder(f func() (recorder.FrameDecoder, error)) Option {
	return func(a *App) { a.newDecoder = f }
}

// WithMetrics injects the metric instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets the config watcher change the log level of the
// handler built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithClock injects the time source used to name recordings.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
//
// New creates the recording and staging directories and deletes staging
// files left behind by a previous process, so nothing from a crash is ever
// mistaken for a live capture.
func New(cfg *config.Config, deps Deps, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(cfg.Server.LogLevel.Level())

	// ── 1. Directories ───────────────────────────────────────────────────
	if err := a.initDirs(); err != nil {
		return nil, fmt.Errorf("app: init directories: %w", err)
	}

	// ── 2. Recorder ──────────────────────────────────────────────────────
	if a.transcoder == nil {
		a.transcoder = recorder.NewFFmpeg(recorder.FFmpegConfig{
			Binary:    cfg.Recording.FFmpegPath,
			OutputDir: cfg.Recording.Dir,
			Format:    cfg.Recording.Format,
			Bitrate:   cfg.Recording.Bitrate,
			Metrics:   a.metrics,
		})
	}
	a.registry = recorder.NewRegistry(recorder.StreamConfig{
		StagingDir:  cfg.Recording.StagingDir,
		Transcoder:  a.transcoder,
		NewDecoder:  a.newDecoder,
		MaxDuration: cfg.Recording.MaxDuration,
		Metrics:     a.metrics,
		Now:         a.now,
	})

	// ── 3. Voice connections, recordings and speech ──────────────────────
	a.conns = NewConnections(deps.Platform, cfg.Recording.JoinTimeout)
	a.recordings = NewRecordingManager(RecordingManagerConfig{
		Connections: a.conns,
		Directory:   deps.Directory,
		Registry:    a.registry,
		SelfID:      deps.SelfID,
		IncludeBots: cfg.Recording.IncludeBots,
		Now:         a.now,
	})
	if deps.TTS != nil {
		a.speaker = NewSpeaker(SpeakerConfig{
			Provider:    deps.TTS,
			Connections: a.conns,
			VoiceID:     cfg.TTS.VoiceID,
			Timeout:     cfg.TTS.PlaybackTimeout,
			Metrics:     a.metrics,
		})
	}

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	checkers := append([]health.Checker{
		health.Binary("ffmpeg", cfg.Recording.FFmpegPath),
		health.WritableDir("recordings", cfg.Recording.Dir),
	}, deps.Checkers...)
	a.health = health.New(checkers...)

	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		a.health.Register(mux)
		if deps.MetricsHandler != nil {
			mux.Handle("GET /metrics", deps.MetricsHandler)
		}
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(a.metrics)(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return a, nil
}

// initDirs creates the output and staging directories and sweeps stale
// staging files.
func (a *App) initDirs() error {
	for _, dir := range []string{a.cfg.Recording.Dir, a.cfg.Recording.StagingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	n, err := recorder.SweepStaging(a.cfg.Recording.StagingDir)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Warn("app: removed stale staging files", "dir", a.cfg.Recording.StagingDir, "count", n)
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Recordings returns the guild recording manager.
func (a *App) Recordings() *RecordingManager { return a.recordings }

// Speaker returns the speech player, or nil when no TTS provider is set.
func (a *App) Speaker() *Speaker { return a.speaker }

// Health returns the health handler.
func (a *App) Health() *health.Handler { return a.health }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP endpoints (when configured) and blocks until ctx is
// cancelled. It returns ctx's error, or the listener error if serving fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		slog.Info("app: http listening", "addr", ln.Addr().String())
		go func() {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("app: http server: %w", err)
			}
		}()
	}

	slog.Info("app running",
		"recordings_dir", a.cfg.Recording.Dir,
		"format", a.cfg.Recording.Format,
		"tts", a.speaker != nil,
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ApplyConfig applies the hot-reloadable parts of a config change and logs
// the settings that need a restart.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("config: log level changed", "level", d.NewLogLevel)
	}
	if d.IncludeBotsChanged {
		a.recordings.SetIncludeBots(d.NewIncludeBots)
		slog.Info("config: include_bots changed", "include_bots", d.NewIncludeBots)
	}
	if d.VoiceChanged {
		if a.speaker != nil {
			a.speaker.SetVoice(d.NewVoiceID)
		}
		slog.Info("config: voice changed", "voice_id", d.NewVoiceID)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: changed settings take effect after a restart", "settings", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown saves every running recording, leaves all voice channels and
// stops the HTTP server. Recordings are always written to completion;
// ctx bounds only the HTTP server shutdown.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "recordings", len(a.recordings.Recordings()))

		if err := a.recordings.Shutdown(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, err)
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
			}
		}

		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
