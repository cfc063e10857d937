// Package recorder captures Discord voice channel speakers into per-speaker
// audio files. Each speaker gets a [SpeakerStream] that pipes the speaker's
// Opus packets through a [Decoder] into a raw PCM staging [Sink], and hands
// the staging file to a [Transcoder] when it stops.
//
// The [Registry] owns all streams, grouped per guild, and guarantees at most
// one stream per (guild, speaker) pair.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glyphrec/internal/observe"
)

// guildSession is the set of streams of one guild.
type guildSession struct {
	streams  map[string]*SpeakerStream // keyed by user ID
	stopping bool
}

// StartRequest identifies a speaker to start recording.
type StartRequest struct {
	GuildID     string
	UserID      string
	DisplayName string

	// Source opens the speaker's packet subscription, normally the guild's
	// voice connection.
	Source Subscriber
}

// Registry tracks the speaker streams of all guilds.
//
// All methods are safe for concurrent use.
type Registry struct {
	cfg StreamConfig

	mu     sync.Mutex
	guilds map[string]*guildSession
}

// NewRegistry creates an empty registry. cfg.Transcoder must be set.
func NewRegistry(cfg StreamConfig) *Registry {
	return &Registry{
		cfg:    cfg.withDefaults(),
		guilds: make(map[string]*guildSession),
	}
}

// StartSpeaker begins recording a speaker. It is a no-op returning
// started=false when the speaker already has a stream in this guild.
// Subscription, decoder or staging failures are returned as a
// [*SpeakerError] and leave no trace in the registry.
func (r *Registry) StartSpeaker(ctx context.Context, req StartRequest) (started bool, err error) {
	r.mu.Lock()
	gs := r.guilds[req.GuildID]
	if gs == nil {
		gs = &guildSession{streams: make(map[string]*SpeakerStream)}
		r.guilds[req.GuildID] = gs
		r.cfg.Metrics.ActiveRecordings.Add(ctx, 1)
	}
	if gs.stopping {
		r.mu.Unlock()
		return false, ErrGuildStopping
	}
	if _, ok := gs.streams[req.UserID]; ok {
		r.mu.Unlock()
		return false, nil
	}
	s := newSpeakerStream(req.GuildID, req.UserID, req.DisplayName, r.cfg, r.remove)
	gs.streams[req.UserID] = s
	r.mu.Unlock()

	// The placeholder in StateStarting blocks duplicates while the pipeline
	// is wired outside the lock. A failed start removes it via r.remove.
	if err := s.start(req.Source); err != nil {
		return false, err
	}
	return true, nil
}

// StopSpeaker stops one speaker and waits for its artifact. The stream is
// removed from the registry once finalized.
//
// Stopping a speaker without a stream changes nothing and returns an error
// wrapping [ErrNotRecording]; callers should treat it as "nothing to stop"
// rather than a failure.
func (r *Registry) StopSpeaker(ctx context.Context, guildID, userID string) (string, error) {
	r.mu.Lock()
	var s *SpeakerStream
	if gs := r.guilds[guildID]; gs != nil {
		s = gs.streams[userID]
	}
	r.mu.Unlock()
	if s == nil {
		return "", fmt.Errorf("%w: guild %s, user %s", ErrNotRecording, guildID, userID)
	}
	return s.Stop(ctx)
}

// StopGuild stops every stream of a guild concurrently and returns the
// artifact paths of those that succeeded, in no particular order. Failures
// are logged and omitted; StopGuild never fails as a whole. New speakers
// are refused while it runs, and afterwards the guild has no session.
func (r *Registry) StopGuild(ctx context.Context, guildID string) []string {
	ctx, span := observe.StartSpan(ctx, "recorder.stop_guild",
		trace.WithAttributes(attribute.String("guild_id", guildID)))
	defer span.End()

	r.mu.Lock()
	gs := r.guilds[guildID]
	if gs == nil {
		r.mu.Unlock()
		return nil
	}
	gs.stopping = true
	streams := make([]*SpeakerStream, 0, len(gs.streams))
	for _, s := range gs.streams {
		streams = append(streams, s)
	}
	r.mu.Unlock()

	var (
		mu    sync.Mutex
		paths []string
		g     errgroup.Group
	)
	for _, s := range streams {
		g.Go(func() error {
			out, err := s.Stop(ctx)
			if err != nil {
				slog.Warn("recorder: speaker failed during guild stop",
					"guild_id", guildID, "user_id", s.UserID(), "error", err)
			}
			if out != "" {
				mu.Lock()
				paths = append(paths, out)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	if r.guilds[guildID] == gs {
		delete(r.guilds, guildID)
		r.cfg.Metrics.ActiveRecordings.Add(ctx, -1)
	}
	r.mu.Unlock()

	span.SetAttributes(attribute.Int("speakers", len(streams)), attribute.Int("outputs", len(paths)))
	slog.Info("recorder: guild recording stopped",
		"guild_id", guildID, "speakers", len(streams), "outputs", len(paths))
	return paths
}

// IsGuildActive reports whether the guild has at least one stream.
func (r *Registry) IsGuildActive(guildID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	gs := r.guilds[guildID]
	return gs != nil && len(gs.streams) > 0
}

// Speakers returns the user IDs with a stream in the guild, sorted.
func (r *Registry) Speakers(guildID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	gs := r.guilds[guildID]
	if gs == nil {
		return nil
	}
	ids := make([]string, 0, len(gs.streams))
	for id := range gs.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stream returns the speaker's stream, if any.
func (r *Registry) Stream(guildID, userID string) (*SpeakerStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gs := r.guilds[guildID]
	if gs == nil {
		return nil, false
	}
	s, ok := gs.streams[userID]
	return s, ok
}

// Guilds returns the IDs of all guilds with a session.
func (r *Registry) Guilds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.guilds))
	for id := range r.guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// remove drops a finalized stream. An emptied guild session is removed too
// unless StopGuild owns its removal.
func (r *Registry) remove(s *SpeakerStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gs := r.guilds[s.guildID]
	if gs == nil || gs.streams[s.userID] != s {
		return
	}
	delete(gs.streams, s.userID)
	if len(gs.streams) == 0 && !gs.stopping {
		delete(r.guilds, s.guildID)
		r.cfg.Metrics.ActiveRecordings.Add(context.Background(), -1)
	}
}
