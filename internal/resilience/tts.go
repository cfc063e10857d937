package resilience

import (
	"context"

	"github.com/MrWong99/glyphrec/pkg/audio"
	"github.com/MrWong99/glyphrec/pkg/provider/tts"
)

// GuardedTTS is a [tts.Provider] whose stream setup and voice listing pass
// through a [Breaker]. Failures after the stream started close the audio
// channel early and are not seen by the breaker.
type GuardedTTS struct {
	provider tts.Provider
	breaker  *Breaker
}

var _ tts.Provider = (*GuardedTTS)(nil)

// NewGuardedTTS wraps p.
func NewGuardedTTS(p tts.Provider, cfg BreakerConfig) *GuardedTTS {
	return &GuardedTTS{provider: p, breaker: NewBreaker(cfg)}
}

// Breaker exposes the breaker, e.g. for readiness reporting.
func (g *GuardedTTS) Breaker() *Breaker { return g.breaker }

func (g *GuardedTTS) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	var out <-chan []byte
	err := g.breaker.Do(func() error {
		var err error
		out, err = g.provider.SynthesizeStream(ctx, text, voice)
		return err
	})
	return out, err
}

func (g *GuardedTTS) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	var voices []tts.VoiceProfile
	err := g.breaker.Do(func() error {
		var err error
		voices, err = g.provider.ListVoices(ctx)
		return err
	})
	return voices, err
}

func (g *GuardedTTS) Format() audio.Format { return g.provider.Format() }
