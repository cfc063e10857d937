package app_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/glyphrec/internal/app"
	ttsmock "github.com/MrWong99/glyphrec/pkg/provider/tts/mock"
)

func newSpeaker(t *testing.T, provider *ttsmock.Provider) (*app.Speaker, *app.Connections, *connFactory) {
	t.Helper()
	platform, joins := newPlatform()
	conns := app.NewConnections(platform, time.Second)
	s := app.NewSpeaker(app.SpeakerConfig{
		Provider:    provider,
		Connections: conns,
		VoiceID:     "narrator",
		Timeout:     5 * time.Second,
	})
	return s, conns, joins
}

func TestSpeaker_SayJoinsPlaysAndLeaves(t *testing.T) {
	t.Parallel()
	provider := &ttsmock.Provider{SynthesizeChunks: [][]byte{make([]byte, 640), make([]byte, 640)}}
	s, conns, joins := newSpeaker(t, provider)

	if err := s.Say(t.Context(), "G1", "voice-1", "  hello there  "); err != nil {
		t.Fatalf("Say: %v", err)
	}

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("SynthesizeStream calls = %d, want 1", len(calls))
	}
	if calls[0].Voice.ID != "narrator" {
		t.Errorf("voice = %q, want narrator", calls[0].Voice.ID)
	}
	if len(calls[0].Text) != 1 || calls[0].Text[0] != "hello there" {
		t.Errorf("text = %q", calls[0].Text)
	}

	conn := joins.Last()
	if len(conn.Played) != 2 {
		t.Errorf("played frames = %d, want 2", len(conn.Played))
	}
	for _, f := range conn.Played {
		if f.SampleRate != 48000 || f.Channels != 2 {
			t.Errorf("frame format = %d Hz × %d, want 48000 Hz × 2", f.SampleRate, f.Channels)
		}
	}
	if conn.Disconnects() != 1 {
		t.Errorf("Disconnects = %d, want 1", conn.Disconnects())
	}
	if _, ok := conns.Get("G1"); ok {
		t.Error("connection kept after speech")
	}
}

func TestSpeaker_SayDuringRecordingKeepsConnection(t *testing.T) {
	t.Parallel()
	provider := &ttsmock.Provider{SynthesizeChunks: [][]byte{make([]byte, 320)}}
	s, conns, joins := newSpeaker(t, provider)

	if _, err := conns.Claim(t.Context(), "G1", "voice-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := s.Say(t.Context(), "G1", "voice-2", "testing"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if joins.Count() != 1 {
		t.Errorf("joins = %d, want 1", joins.Count())
	}
	if joins.Last().Disconnects() != 0 {
		t.Error("speech closed the recording connection")
	}
}

func TestSpeaker_EmptyText(t *testing.T) {
	t.Parallel()
	s, _, joins := newSpeaker(t, &ttsmock.Provider{})

	if err := s.Say(t.Context(), "G1", "voice-1", " \n\t"); !errors.Is(err, app.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
	if joins.Count() != 0 {
		t.Error("joined for empty text")
	}
}

func TestSpeaker_SynthesisError(t *testing.T) {
	t.Parallel()
	s, conns, joins := newSpeaker(t, &ttsmock.Provider{SynthesizeErr: errors.New("quota exceeded")})

	if err := s.Say(t.Context(), "G1", "voice-1", "hi"); err == nil {
		t.Fatal("expected error")
	}
	if joins.Last().Disconnects() != 1 {
		t.Error("connection not released after failure")
	}
	if _, ok := conns.Get("G1"); ok {
		t.Error("connection kept after failure")
	}
}

func TestSpeaker_SetVoice(t *testing.T) {
	t.Parallel()
	provider := &ttsmock.Provider{}
	s, _, _ := newSpeaker(t, provider)

	s.SetVoice("bard")
	if got := s.Voice().ID; got != "bard" {
		t.Fatalf("Voice = %q, want bard", got)
	}
	if err := s.Say(t.Context(), "G1", "voice-1", "a song"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if got := provider.Calls()[0].Voice.ID; got != "bard" {
		t.Errorf("synthesized with %q, want bard", got)
	}
}
