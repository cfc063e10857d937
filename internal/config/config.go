// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the glyphrec recording bot.
package config

import (
	"log/slog"
	"path/filepath"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultRecordingsDir   = "recordings"
	DefaultFormat          = "mp3"
	DefaultFFmpegPath      = "ffmpeg"
	DefaultJoinTimeout     = 30 * time.Second
	DefaultTTSOutputFormat = "pcm_16000"
	DefaultPlaybackTimeout = 60 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discord   DiscordConfig   `yaml:"discord"`
	Recording RecordingConfig `yaml:"recording"`
	TTS       TTSConfig       `yaml:"tts"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat is "text" (default) or "json".
	LogFormat LogFormat `yaml:"log_format"`
}

// DiscordConfig holds the bot credentials and command scoping.
type DiscordConfig struct {
	// Token is the bot token. Usually supplied via DISCORD_TOKEN.
	Token string `yaml:"token"`

	// GuildID registers slash commands for one guild only, which makes them
	// available immediately. Empty registers them globally.
	GuildID string `yaml:"guild_id"`

	// CommandChannelID restricts /speak to one text channel. Empty allows all.
	CommandChannelID string `yaml:"command_channel_id"`

	// RecorderRoleID restricts /record and /stoprecord to members with this
	// role. Empty allows everyone.
	RecorderRoleID string `yaml:"recorder_role_id"`
}

// RecordingConfig controls capture and transcoding.
type RecordingConfig struct {
	// Dir receives finished recordings. Default: "recordings".
	Dir string `yaml:"dir"`

	// StagingDir holds raw PCM while speakers are captured.
	// Default: "<dir>/.staging".
	StagingDir string `yaml:"staging_dir"`

	// Format is the output file extension: mp3, ogg, opus, flac or wav.
	// Default: mp3.
	Format string `yaml:"format"`

	// FFmpegPath is the ffmpeg executable. Default: "ffmpeg" from PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Bitrate is passed to ffmpeg as -b:a for lossy formats, e.g. "128k".
	Bitrate string `yaml:"bitrate"`

	// JoinTimeout bounds joining a voice channel. Default: 30s.
	JoinTimeout time.Duration `yaml:"join_timeout"`

	// MaxDuration stops a speaker's capture automatically once it is this
	// old. Zero (default) records until stopped.
	MaxDuration time.Duration `yaml:"max_duration"`

	// IncludeBots also records bot accounts. Hot-reloadable.
	IncludeBots bool `yaml:"include_bots"`
}

// TTSConfig configures speech playback for /speak and mentions.
type TTSConfig struct {
	// Provider selects a registered TTS provider (e.g., "elevenlabs").
	// Empty disables speech.
	Provider string `yaml:"provider"`

	// APIKey authenticates with the provider. Usually supplied via
	// ELEVENLABS_API_KEY.
	APIKey string `yaml:"api_key"`

	// VoiceID is the provider-specific voice. Hot-reloadable.
	VoiceID string `yaml:"voice_id"`

	// Model selects a provider model. Empty uses the provider default.
	Model string `yaml:"model"`

	// OutputFormat is the provider's PCM output format. Default: "pcm_16000".
	OutputFormat string `yaml:"output_format"`

	// PlaybackTimeout bounds synthesis plus playback. Default: 60s.
	PlaybackTimeout time.Duration `yaml:"playback_timeout"`
}

// Enabled reports whether speech playback is configured.
func (t TTSConfig) Enabled() bool { return t.Provider != "" }

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = LogFormatText
	}
	if c.Recording.Dir == "" {
		c.Recording.Dir = DefaultRecordingsDir
	}
	if c.Recording.StagingDir == "" {
		c.Recording.StagingDir = filepath.Join(c.Recording.Dir, ".staging")
	}
	if c.Recording.Format == "" {
		c.Recording.Format = DefaultFormat
	}
	if c.Recording.FFmpegPath == "" {
		c.Recording.FFmpegPath = DefaultFFmpegPath
	}
	if c.Recording.JoinTimeout == 0 {
		c.Recording.JoinTimeout = DefaultJoinTimeout
	}
	if c.TTS.OutputFormat == "" {
		c.TTS.OutputFormat = DefaultTTSOutputFormat
	}
	if c.TTS.PlaybackTimeout == 0 {
		c.TTS.PlaybackTimeout = DefaultPlaybackTimeout
	}
}
