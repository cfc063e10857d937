package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/glyphrec/internal/recorder"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"tts": {"elevenlabs"},
}

// Environment variables overriding file values. They are applied after the
// YAML is decoded and before defaults and validation.
const (
	EnvDiscordToken  = "DISCORD_TOKEN"
	EnvElevenLabsKey = "ELEVENLABS_API_KEY"
	EnvRecordingsDir = "GLYPHREC_RECORDINGS_DIR"
	EnvLogLevel      = "GLYPHREC_LOG_LEVEL"
)

var bitrateRe = regexp.MustCompile(`^[1-9][0-9]*k$`)

// LoadDotEnv loads environment variables from the given .env files (default
// ".env") without overriding variables that are already set. Missing files
// are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("config: loaded environment file", "path", p)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. An empty path skips the file and builds the config from
// environment variables and defaults alone.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, nil
}

// Read is [Load] without validation, for tooling that needs only part of the
// configuration (e.g. the staging directory).
func Read(path string) (*Config, error) {
	if path == "" {
		return Decode(strings.NewReader(""))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode decodes a YAML config from r and applies environment overrides and
// defaults. Unknown keys are rejected. An empty document is valid input.
func Decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyEnv overrides cfg with the environment variables reported by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDiscordToken); ok && v != "" {
		cfg.Discord.Token = v
	}
	if v, ok := lookup(EnvElevenLabsKey); ok && v != "" {
		cfg.TTS.APIKey = v
	}
	if v, ok := lookup(EnvRecordingsDir); ok && v != "" {
		cfg.Recording.Dir = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("discord.token is required (or set %s)", EnvDiscordToken))
	}

	// Recording
	if cfg.Recording.Format != "" && !recorder.SupportedFormat(cfg.Recording.Format) {
		errs = append(errs, fmt.Errorf("recording.format %q is invalid; valid values: mp3, ogg, opus, flac, wav", cfg.Recording.Format))
	}
	if cfg.Recording.Bitrate != "" && !bitrateRe.MatchString(cfg.Recording.Bitrate) {
		errs = append(errs, fmt.Errorf("recording.bitrate %q is invalid; use kbit/s like \"128k\"", cfg.Recording.Bitrate))
	}
	if cfg.Recording.JoinTimeout < 0 {
		errs = append(errs, errors.New("recording.join_timeout must not be negative"))
	}
	if cfg.Recording.MaxDuration < 0 {
		errs = append(errs, errors.New("recording.max_duration must not be negative"))
	}

	// TTS
	if cfg.TTS.Enabled() {
		validateProviderName("tts", cfg.TTS.Provider)
		if cfg.TTS.APIKey == "" {
			errs = append(errs, fmt.Errorf("tts.api_key is required when tts.provider is set (or set %s)", EnvElevenLabsKey))
		}
		if cfg.TTS.VoiceID == "" {
			errs = append(errs, errors.New("tts.voice_id is required when tts.provider is set"))
		}
		if cfg.TTS.OutputFormat != "" && !strings.HasPrefix(cfg.TTS.OutputFormat, "pcm_") {
			errs = append(errs, fmt.Errorf("tts.output_format %q is invalid; only raw pcm_<rate> formats can be played", cfg.TTS.OutputFormat))
		}
	}
	if cfg.TTS.PlaybackTimeout < 0 {
		errs = append(errs, errors.New("tts.playback_timeout must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
