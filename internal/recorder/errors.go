package recorder

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying speaker failures. Every error produced by a
// speaker stream wraps exactly one of them; test with [errors.Is].
var (
	// ErrSubscription means the platform rejected the packet subscription.
	ErrSubscription = errors.New("recorder: subscription failed")

	// ErrSource means the packet source ended without being asked to, for
	// example because the voice connection dropped.
	ErrSource = errors.New("recorder: packet source ended")

	// ErrDecode means a compressed packet could not be decoded.
	ErrDecode = errors.New("recorder: decode failed")

	// ErrWrite means the staging file could not be created or written.
	ErrWrite = errors.New("recorder: staging write failed")

	// ErrTranscode means the transcoder failed or produced no output.
	ErrTranscode = errors.New("recorder: transcode failed")

	// ErrNoAudio means a speaker stream captured nothing to transcode.
	ErrNoAudio = errors.New("recorder: no audio captured")

	// ErrNotRecording is returned when stopping a speaker that has no stream.
	ErrNotRecording = errors.New("recorder: speaker not recording")

	// ErrGuildStopping is returned by StartSpeaker while the guild is being
	// stopped.
	ErrGuildStopping = errors.New("recorder: guild recording is stopping")
)

// SpeakerError attaches the speaker identity to a stream failure.
type SpeakerError struct {
	// Kind is one of the sentinel errors above.
	Kind    error
	GuildID string
	UserID  string
	Err     error
}

// Error implements error.
func (e *SpeakerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (guild %s, user %s)", e.Kind, e.GuildID, e.UserID)
	}
	return fmt.Sprintf("%v (guild %s, user %s): %v", e.Kind, e.GuildID, e.UserID, e.Err)
}

// Unwrap exposes both the kind and the cause to [errors.Is] and [errors.As].
func (e *SpeakerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns a short label for metrics and logs.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrSubscription):
		return "subscription"
	case errors.Is(err, ErrSource):
		return "source"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrWrite):
		return "write"
	case errors.Is(err, ErrNoAudio):
		return "no_audio"
	case errors.Is(err, ErrTranscode):
		return "transcode"
	default:
		return "unknown"
	}
}
