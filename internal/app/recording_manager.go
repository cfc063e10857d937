package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glyphrec/internal/recorder"
	"github.com/MrWong99/glyphrec/pkg/audio"
)

var (
	// ErrAlreadyRecording is returned by [RecordingManager.Begin] when the
	// guild is already being recorded.
	ErrAlreadyRecording = errors.New("app: guild is already recording")

	// ErrNotRecording is returned by [RecordingManager.StopGuild] when the
	// guild is not being recorded.
	ErrNotRecording = errors.New("app: guild is not recording")
)

// memberLookupTimeout bounds resolving a speaker's display name.
const memberLookupTimeout = 10 * time.Second

// RecordingInfo holds metadata about a guild recording.
type RecordingInfo struct {
	// SessionID uniquely identifies this recording in logs.
	SessionID string

	GuildID   string
	ChannelID string

	// StartedBy is the user ID of whoever started the recording.
	StartedBy string

	StartedAt time.Time

	// Speakers are the user IDs with a live speaker stream, sorted.
	Speakers []string
}

// recording is the manager's state for one guild.
type recording struct {
	info RecordingInfo
	conn audio.Connection

	stopping bool

	// pending counts speaker starts in flight; StopGuild waits for them so
	// no stream is started behind its back.
	pending sync.WaitGroup
}

// RecordingManagerConfig holds all dependencies for a [RecordingManager].
type RecordingManagerConfig struct {
	Connections *Connections
	Directory   audio.Directory
	Registry    *recorder.Registry

	// SelfID is the bot's own user ID; it is never recorded.
	SelfID string

	// IncludeBots also records bot accounts.
	IncludeBots bool

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// RecordingManager runs guild recordings on top of the speaker [recorder.Registry]:
// it joins the voice channel, starts a speaker stream for everyone present
// and for every user who starts speaking, and stops them all on request.
//
// All exported methods are safe for concurrent use.
type RecordingManager struct {
	conns       *Connections
	dir         audio.Directory
	reg         *recorder.Registry
	selfID      string
	includeBots atomic.Bool
	now         func() time.Time

	mu         sync.Mutex
	recordings map[string]*recording // keyed by guild ID
}

// NewRecordingManager creates a RecordingManager with the given dependencies.
func NewRecordingManager(cfg RecordingManagerConfig) *RecordingManager {
	m := &RecordingManager{
		conns:      cfg.Connections,
		dir:        cfg.Directory,
		reg:        cfg.Registry,
		selfID:     cfg.SelfID,
		now:        cfg.Now,
		recordings: make(map[string]*recording),
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.includeBots.Store(cfg.IncludeBots)
	return m
}

// SetIncludeBots changes whether bot accounts are recorded. It affects
// speakers started afterwards.
func (m *RecordingManager) SetIncludeBots(v bool) {
	m.includeBots.Store(v)
}

// Begin starts recording a guild's voice channel. Everyone already in the
// channel is recorded right away; anyone else is picked up when they start
// speaking.
//
// Returns [ErrAlreadyRecording] if the guild is being recorded. If setup
// fails after joining and no speaker stream became active, the voice
// connection is released again.
func (m *RecordingManager) Begin(ctx context.Context, guildID, channelID, startedBy string) (RecordingInfo, error) {
	m.mu.Lock()
	if _, ok := m.recordings[guildID]; ok || m.reg.IsGuildActive(guildID) {
		m.mu.Unlock()
		return RecordingInfo{}, fmt.Errorf("%w (guild %s)", ErrAlreadyRecording, guildID)
	}
	rec := &recording{info: RecordingInfo{
		SessionID: uuid.NewString(),
		GuildID:   guildID,
		ChannelID: channelID,
		StartedBy: startedBy,
		StartedAt: m.now().UTC(),
	}}
	// Reserved without a connection so concurrent Begin calls fail fast.
	m.recordings[guildID] = rec
	m.mu.Unlock()

	log := slog.With("session_id", rec.info.SessionID, "guild_id", guildID, "channel_id", channelID)

	conn, err := m.conns.Claim(ctx, guildID, channelID)
	if err != nil {
		m.drop(guildID, rec)
		return RecordingInfo{}, err
	}

	m.mu.Lock()
	rec.conn = conn
	m.mu.Unlock()

	conn.OnSpeaking(func(ev audio.SpeakingEvent) {
		if ev.Speaking {
			m.startUser(guildID, ev.UserID)
		}
	})

	members, err := m.dir.VoiceMembers(ctx, guildID, channelID)
	if err != nil {
		m.mu.Lock()
		rec.stopping = true
		m.mu.Unlock()
		rec.pending.Wait()

		if !m.reg.IsGuildActive(guildID) {
			conn.OnSpeaking(nil)
			m.drop(guildID, rec)
			m.conns.Unclaim(guildID)
			return RecordingInfo{}, fmt.Errorf("app: list voice members: %w", err)
		}
		m.mu.Lock()
		rec.stopping = false
		m.mu.Unlock()
		log.Warn("app: could not list voice members, recording speakers as they talk", "error", err)
	}
	for _, member := range members {
		m.startMember(ctx, guildID, member)
	}

	log.Info("app: recording started", "started_by", startedBy, "speakers", len(m.reg.Speakers(guildID)))
	info, _ := m.Info(guildID)
	return info, nil
}

// drop removes a recording that failed to start.
func (m *RecordingManager) drop(guildID string, rec *recording) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordings[guildID] == rec {
		delete(m.recordings, guildID)
	}
}

// acquire returns the guild's recording and registers a pending start on
// it, or nil when the guild is not recording or is being stopped.
func (m *RecordingManager) acquire(guildID string) *recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordings[guildID]
	if rec == nil || rec.stopping || rec.conn == nil {
		return nil
	}
	rec.pending.Add(1)
	return rec
}

// startUser handles a speaking event: it resolves the user and starts a
// speaker stream unless one exists.
func (m *RecordingManager) startUser(guildID, userID string) {
	if userID == m.selfID {
		return
	}
	if _, ok := m.reg.Stream(guildID, userID); ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), memberLookupTimeout)
	defer cancel()

	member, err := m.dir.Member(ctx, guildID, userID)
	if err != nil {
		slog.Warn("app: could not resolve speaker, using user ID as name",
			"guild_id", guildID, "user_id", userID, "error", err)
		member = audio.Member{UserID: userID, DisplayName: userID}
	}
	m.startMember(ctx, guildID, member)
}

func (m *RecordingManager) startMember(ctx context.Context, guildID string, member audio.Member) {
	if member.UserID == m.selfID {
		return
	}
	if member.Bot && !m.includeBots.Load() {
		slog.Debug("app: skipping bot", "guild_id", guildID, "user_id", member.UserID)
		return
	}
	rec := m.acquire(guildID)
	if rec == nil {
		return
	}
	defer rec.pending.Done()

	name := member.DisplayName
	if name == "" {
		name = member.UserID
	}
	started, err := m.reg.StartSpeaker(ctx, recorder.StartRequest{
		GuildID:     guildID,
		UserID:      member.UserID,
		DisplayName: name,
		Source:      rec.conn,
	})
	switch {
	case err != nil:
		slog.Warn("app: could not start speaker",
			"session_id", rec.info.SessionID, "guild_id", guildID, "user_id", member.UserID, "error", err)
	case started:
		slog.Info("app: recording speaker",
			"session_id", rec.info.SessionID, "guild_id", guildID, "user_id", member.UserID, "name", name)
	}
}

// StopGuild stops every speaker of the guild, waits for all recordings to
// be written and releases the voice connection. It returns the paths of the
// recordings that were saved; speakers that failed are logged and omitted.
//
// Returns [ErrNotRecording] if the guild is not being recorded.
func (m *RecordingManager) StopGuild(ctx context.Context, guildID string) ([]string, error) {
	m.mu.Lock()
	rec := m.recordings[guildID]
	if rec == nil || rec.stopping || rec.conn == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (guild %s)", ErrNotRecording, guildID)
	}
	rec.stopping = true
	m.mu.Unlock()

	rec.conn.OnSpeaking(nil)
	rec.pending.Wait()

	paths := m.reg.StopGuild(ctx, guildID)
	sort.Strings(paths)

	m.conns.Unclaim(guildID)
	m.drop(guildID, rec)

	slog.Info("app: recording stopped",
		"session_id", rec.info.SessionID,
		"guild_id", guildID,
		"duration", m.now().UTC().Sub(rec.info.StartedAt).Truncate(time.Second),
		"files", len(paths),
	)
	return paths, nil
}

// IsRecording reports whether the guild has a recording, even one whose
// speakers are all silent.
func (m *RecordingManager) IsRecording(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordings[guildID]
	return rec != nil && rec.conn != nil
}

// IsGuildActive reports whether at least one speaker stream is live in the
// guild.
func (m *RecordingManager) IsGuildActive(guildID string) bool {
	return m.reg.IsGuildActive(guildID)
}

// Info returns metadata about the guild's recording.
func (m *RecordingManager) Info(guildID string) (RecordingInfo, bool) {
	m.mu.Lock()
	rec := m.recordings[guildID]
	m.mu.Unlock()
	if rec == nil {
		return RecordingInfo{}, false
	}
	info := rec.info
	info.Speakers = m.reg.Speakers(guildID)
	return info, true
}

// Recordings returns metadata about all guild recordings, sorted by guild.
func (m *RecordingManager) Recordings() []RecordingInfo {
	m.mu.Lock()
	ids := make([]string, 0, len(m.recordings))
	for id := range m.recordings {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	out := make([]RecordingInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := m.Info(id); ok {
			out = append(out, info)
		}
	}
	return out
}

// Leave closes the guild's voice connection when no recording owns it. It
// reports whether a connection was closed.
func (m *RecordingManager) Leave(guildID string) bool {
	if m.IsRecording(guildID) {
		return false
	}
	return m.conns.Leave(guildID)
}

// Shutdown stops every guild recording concurrently and then closes all
// voice connections.
func (m *RecordingManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.recordings))
	for id := range m.recordings {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			paths, err := m.StopGuild(ctx, id)
			if errors.Is(err, ErrNotRecording) {
				return nil
			}
			if err != nil {
				return err
			}
			slog.Info("app: recording saved on shutdown", "guild_id", id, "files", len(paths))
			return nil
		})
	}
	err := g.Wait()
	return errors.Join(err, m.conns.Close())
}
