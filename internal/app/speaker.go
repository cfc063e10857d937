package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/glyphrec/internal/observe"
	"github.com/MrWong99/glyphrec/pkg/audio"
	"github.com/MrWong99/glyphrec/pkg/audio/opus"
	"github.com/MrWong99/glyphrec/pkg/provider/tts"
)

// ErrEmptyText is returned by [Speaker.Say] for blank text.
var ErrEmptyText = errors.New("app: nothing to say")

// SpeakerConfig holds the dependencies of a [Speaker].
type SpeakerConfig struct {
	Provider    tts.Provider
	Connections *Connections

	// VoiceID selects the provider voice.
	VoiceID string

	// Timeout bounds synthesis plus playback. Zero means no bound.
	Timeout time.Duration

	// Metrics receives the tts duration. Default: observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Speaker plays synthesized speech into voice channels. When the guild is
// being recorded it speaks through the recording connection and leaves it
// open; otherwise it joins the requested channel and leaves after speaking.
//
// Speaker is safe for concurrent use.
type Speaker struct {
	provider tts.Provider
	conns    *Connections
	timeout  time.Duration
	metrics  *observe.Metrics

	mu    sync.RWMutex
	voice tts.VoiceProfile
}

// NewSpeaker creates a Speaker.
func NewSpeaker(cfg SpeakerConfig) *Speaker {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Speaker{
		provider: cfg.Provider,
		conns:    cfg.Connections,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		voice:    tts.VoiceProfile{ID: cfg.VoiceID},
	}
}

// SetVoice switches the voice used for subsequent speech.
func (s *Speaker) SetVoice(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = tts.VoiceProfile{ID: id}
}

// Voice returns the current voice.
func (s *Speaker) Voice() tts.VoiceProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voice
}

// Say synthesizes text and plays it in channelID of guildID, returning once
// playback has finished.
func (s *Speaker) Say(ctx context.Context, guildID, channelID, text string) (err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ctx, span := observe.StartSpan(ctx, "speaker.say",
		trace.WithAttributes(attribute.String("guild_id", guildID), attribute.Int("chars", len(text))))
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("status", status)))
		observe.EndSpan(span, err)
	}()

	conn, release, err := s.conns.Borrow(ctx, guildID, channelID)
	if err != nil {
		return err
	}
	defer release()

	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := tts.Stream(playCtx, s.provider, text, s.Voice())
	if err != nil {
		return fmt.Errorf("app: synthesize: %w", err)
	}
	frames := audio.StreamPCM(playCtx, chunks, s.provider.Format(), opus.Format)

	err = conn.Play(playCtx, frames)
	cancel()
	audio.Drain(frames)
	audio.Drain(chunks)
	if err != nil {
		return fmt.Errorf("app: play speech: %w", err)
	}

	observe.Logger(ctx).Info("app: speech played",
		"guild_id", guildID, "channel_id", conn.ChannelID(), "chars", len(text))
	return nil
}
