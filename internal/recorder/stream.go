package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/glyphrec/internal/observe"
	"github.com/MrWong99/glyphrec/pkg/audio"
	"github.com/MrWong99/glyphrec/pkg/audio/opus"
)

// State is the lifecycle phase of a [SpeakerStream].
type State int32

const (
	// StateStarting: subscription, decoder and sink are being wired.
	StateStarting State = iota

	// StateCapturing: packets flow from the subscription into the sink.
	StateCapturing

	// StateStopping: a stop was requested and teardown is running.
	StateStopping

	// StateErrorStopping: a pipeline failure triggered teardown.
	StateErrorStopping

	// StateFinalized: terminal. The result is available.
	StateFinalized
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateCapturing:
		return "capturing"
	case StateStopping:
		return "stopping"
	case StateErrorStopping:
		return "error-stopping"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Subscriber opens per-speaker packet subscriptions. [audio.Connection]
// satisfies it.
type Subscriber interface {
	Subscribe(userID string, opts audio.SubscribeOptions) (audio.Subscription, error)
}

// StreamConfig holds the dependencies shared by all streams of a [Registry].
type StreamConfig struct {
	// StagingDir receives raw PCM staging files.
	StagingDir string

	// Transcoder finalizes staging files.
	Transcoder Transcoder

	// NewDecoder creates a per-speaker codec. Default: opus.NewDecoder.
	NewDecoder func() (FrameDecoder, error)

	// MaxDuration stops a stream automatically after this long. Zero
	// disables the limit.
	MaxDuration time.Duration

	// Metrics receives stream metrics. Default: observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.NewDecoder == nil {
		c.NewDecoder = func() (FrameDecoder, error) { return opus.NewDecoder() }
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// SpeakerStream captures one speaker in one guild from subscription to
// finished artifact. The pipeline is subscription → [Decoder] → [Sink],
// driven by a single capture goroutine; [Transcoder] runs at stop time.
//
// Every exit path (explicit stop, automatic stop, pipeline failure) runs the
// same teardown exactly once: unsubscribe, drain the capture goroutine,
// flush the decoder, close the sink, then transcode or discard.
type SpeakerStream struct {
	guildID     string
	userID      string
	displayName string
	startedAt   time.Time

	cfg StreamConfig
	log *slog.Logger

	state atomic.Int32

	sub  audio.Subscription
	dec  *Decoder
	sink *Sink

	ready       chan struct{} // closed once start returned
	captureDone chan struct{}
	captureErr  error // set before captureDone closes
	limit       *time.Timer

	finishOnce sync.Once
	finished   chan struct{}
	output     string
	err        error

	// onFinalized runs once when the stream reaches StateFinalized, before
	// Done is closed.
	onFinalized func(*SpeakerStream)
}

func newSpeakerStream(guildID, userID, displayName string, cfg StreamConfig, onFinalized func(*SpeakerStream)) *SpeakerStream {
	s := &SpeakerStream{
		guildID:     guildID,
		userID:      userID,
		displayName: displayName,
		startedAt:   cfg.Now(),
		cfg:         cfg,
		ready:       make(chan struct{}),
		captureDone: make(chan struct{}),
		finished:    make(chan struct{}),
		onFinalized: onFinalized,
	}
	s.log = slog.With("guild_id", guildID, "user_id", userID, "display_name", displayName)
	s.state.Store(int32(StateStarting))
	return s
}

// GuildID returns the guild the stream records in.
func (s *SpeakerStream) GuildID() string { return s.guildID }

// UserID returns the recorded speaker.
func (s *SpeakerStream) UserID() string { return s.userID }

// DisplayName returns the name used for the artifact.
func (s *SpeakerStream) DisplayName() string { return s.displayName }

// StartedAt returns when the stream was created.
func (s *SpeakerStream) StartedAt() time.Time { return s.startedAt }

// State returns the current lifecycle phase.
func (s *SpeakerStream) State() State { return State(s.state.Load()) }

// Done is closed once the stream is finalized.
func (s *SpeakerStream) Done() <-chan struct{} { return s.finished }

// Result returns the artifact path or the failure. It blocks until the
// stream is finalized.
func (s *SpeakerStream) Result() (string, error) {
	<-s.finished
	return s.output, s.err
}

// start wires the pipeline and launches capture. On failure the stream is
// finalized with the error and nothing is left open.
func (s *SpeakerStream) start(src Subscriber) error {
	defer close(s.ready)
	fail := func(kind, err error) error {
		s.finishOnce.Do(func() { s.finalizeWith("", s.speakerErr(kind, err)) })
		return s.err
	}

	sub, err := src.Subscribe(s.userID, audio.SubscribeOptions{})
	if err != nil {
		return fail(ErrSubscription, err)
	}
	codec, err := s.cfg.NewDecoder()
	if err != nil {
		sub.Unsubscribe()
		return fail(ErrDecode, err)
	}
	sink, err := OpenSink(s.cfg.StagingDir, s.guildID, s.userID)
	if err != nil {
		sub.Unsubscribe()
		return fail(ErrWrite, err)
	}

	s.sub = sub
	s.sink = sink
	s.dec = NewDecoder(codec, sink, DecoderConfig{Start: s.startedAt, Now: s.cfg.Now})
	s.state.Store(int32(StateCapturing))
	s.cfg.Metrics.ActiveSpeakers.Add(context.Background(), 1)

	if s.cfg.MaxDuration > 0 {
		s.limit = time.AfterFunc(s.cfg.MaxDuration, func() {
			s.log.Info("recorder: max duration reached, stopping speaker", "max_duration", s.cfg.MaxDuration)
			_, _ = s.Stop(context.Background())
		})
	}

	go s.capture()
	s.log.Info("recorder: speaker stream started", "staging", sink.Path())
	return nil
}

// capture pumps packets until the subscription ends or the pipeline fails.
func (s *SpeakerStream) capture() {
	err := s.pump()
	s.captureErr = err
	close(s.captureDone)

	if err != nil && s.state.CompareAndSwap(int32(StateCapturing), int32(StateErrorStopping)) {
		s.log.Warn("recorder: speaker stream failed, stopping", "error", err)
		s.finish(context.Background())
	}
}

func (s *SpeakerStream) pump() error {
	for pkt := range s.sub.Packets() {
		if err := s.dec.Write(pkt); err != nil {
			if errors.Is(err, ErrWrite) {
				return s.speakerErr(ErrWrite, err)
			}
			return s.speakerErr(ErrDecode, err)
		}
	}
	if s.State() == StateCapturing {
		// Nobody asked the subscription to end.
		cause := s.sub.Err()
		if cause == nil {
			cause = errors.New("subscription closed")
		}
		return s.speakerErr(ErrSource, cause)
	}
	return nil
}

// Stop requests a normal stop and waits for finalization. Concurrent and
// repeated calls share the first call's teardown and result. ctx bounds the
// transcode of the first call only.
func (s *SpeakerStream) Stop(ctx context.Context) (string, error) {
	<-s.ready
	s.state.CompareAndSwap(int32(StateCapturing), int32(StateStopping))
	s.finish(ctx)
	return s.Result()
}

func (s *SpeakerStream) finish(ctx context.Context) {
	s.finishOnce.Do(func() {
		ctx, span := observe.StartSpan(ctx, "recorder.stop_speaker", trace.WithAttributes(
			attribute.String("guild_id", s.guildID),
			attribute.String("user_id", s.userID),
			attribute.String("state", s.State().String()),
		))
		out, err := s.teardown(ctx)
		observe.EndSpan(span, err)
		s.finalizeWith(out, err)
	})
	<-s.finished
}

func (s *SpeakerStream) teardown(ctx context.Context) (string, error) {
	if s.limit != nil {
		s.limit.Stop()
	}
	defer s.cfg.Metrics.ActiveSpeakers.Add(context.Background(), -1)

	s.sub.Unsubscribe()
	<-s.captureDone

	flushErr := s.dec.Close()
	closeErr := s.sink.Close()
	s.cfg.Metrics.RecordedBytes.Add(ctx, s.sink.Size())

	captureErr := s.captureErr
	if captureErr == nil && flushErr != nil {
		captureErr = s.speakerErr(ErrWrite, flushErr)
	}
	if captureErr == nil && closeErr != nil {
		captureErr = s.speakerErr(ErrWrite, closeErr)
	}

	// A dropped source leaves an intact prefix worth keeping; decode and
	// write failures leave a staging file that cannot be trusted.
	if captureErr != nil && !errors.Is(captureErr, ErrSource) {
		if err := s.sink.Remove(); err != nil {
			s.log.Warn("recorder: discard staging file", "error", err)
		}
		return "", captureErr
	}

	out, err := s.cfg.Transcoder.Transcode(ctx, Job{
		Input:       s.sink.Path(),
		GuildID:     s.guildID,
		DisplayName: s.displayName,
		StartedAt:   s.startedAt,
	})
	if err != nil {
		return "", s.speakerErr(ErrTranscode, err)
	}
	return out, captureErr
}

func (s *SpeakerStream) finalizeWith(out string, err error) {
	s.output = out
	s.err = err
	s.state.Store(int32(StateFinalized))
	if s.onFinalized != nil {
		s.onFinalized(s)
	}
	close(s.finished)

	ctx := context.Background()
	if err != nil {
		s.cfg.Metrics.RecordSpeakerError(ctx, KindName(err))
	}
	s.cfg.Metrics.RecordFinalized(ctx, out != "")
	switch {
	case out != "" && err != nil:
		s.log.Warn("recorder: speaker recording salvaged", "output", out, "error", err)
	case out != "":
		s.log.Info("recorder: speaker recording saved", "output", out)
	default:
		s.log.Error("recorder: speaker recording failed", "error", err)
	}
}

func (s *SpeakerStream) speakerErr(kind, err error) error {
	var se *SpeakerError
	if errors.As(err, &se) {
		return err
	}
	return &SpeakerError{Kind: kind, GuildID: s.guildID, UserID: s.userID, Err: err}
}

// String implements fmt.Stringer for logs.
func (s *SpeakerStream) String() string {
	return fmt.Sprintf("speaker %s/%s (%s)", s.guildID, s.userID, s.State())
}
