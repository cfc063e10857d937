package app_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/glyphrec/internal/app"
	"github.com/MrWong99/glyphrec/internal/recorder"
	"github.com/MrWong99/glyphrec/pkg/audio"
	audiomock "github.com/MrWong99/glyphrec/pkg/audio/mock"
	"github.com/MrWong99/glyphrec/pkg/audio/opus"
)

// fakeCodec decodes every packet into one silent 20 ms frame.
type fakeCodec struct{}

func (fakeCodec) Decode([]byte) ([]byte, error) { return make([]byte, opus.FrameBytes), nil }

func newFakeCodec() (recorder.FrameDecoder, error) { return fakeCodec{}, nil }

// fakeTranscoder writes a stub artifact for every non-empty staging file.
type fakeTranscoder struct {
	dir string

	mu   sync.Mutex
	jobs []recorder.Job
}

func (f *fakeTranscoder) Transcode(_ context.Context, job recorder.Job) (string, error) {
	defer os.Remove(job.Input)

	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	st, err := os.Stat(job.Input)
	if err != nil {
		return "", err
	}
	if st.Size() == 0 {
		return "", recorder.ErrNoAudio
	}
	out := recorder.OutputPath(f.dir, job.GuildID, job.DisplayName, job.StartedAt, "mp3")
	if err := os.WriteFile(out, []byte("ID3"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func (f *fakeTranscoder) Jobs() []recorder.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorder.Job(nil), f.jobs...)
}

// connFactory hands out a fresh mock connection per join.
type connFactory struct {
	mu    sync.Mutex
	conns []*audiomock.Connection
}

func (f *connFactory) connect(guildID, channelID string) (audio.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &audiomock.Connection{Guild: guildID, Channel: channelID}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *connFactory) Last() *audiomock.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func (f *connFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func newPlatform() (*audiomock.Platform, *connFactory) {
	f := &connFactory{}
	return &audiomock.Platform{ConnectFunc: f.connect}, f
}

// feed delivers n contiguous packets to userID's subscription on conn.
func feed(t *testing.T, conn *audiomock.Connection, userID string, n int) {
	t.Helper()
	s := conn.Stream(userID)
	if s == nil {
		t.Fatalf("no subscription for %s", userID)
	}
	for i := range n {
		if !s.Deliver(audio.Packet{Sequence: uint16(i), Timestamp: uint32(i * opus.FrameSize), Opus: []byte{1}}) {
			t.Fatalf("Deliver to %s failed", userID)
		}
	}
}

// managerFixture is a RecordingManager over mocks.
type managerFixture struct {
	mgr      *app.RecordingManager
	conns    *app.Connections
	platform *audiomock.Platform
	joins    *connFactory
	dir      *audiomock.Directory
	tc       *fakeTranscoder
	out      string
}

func newManagerFixture(t *testing.T, dir *audiomock.Directory) *managerFixture {
	t.Helper()
	out := t.TempDir()
	staging := t.TempDir()
	tc := &fakeTranscoder{dir: out}
	platform, joins := newPlatform()
	if dir == nil {
		dir = &audiomock.Directory{}
	}
	conns := app.NewConnections(platform, time.Second)
	reg := recorder.NewRegistry(recorder.StreamConfig{
		StagingDir: staging,
		Transcoder: tc,
		NewDecoder: newFakeCodec,
		Now:        func() time.Time { return time.UnixMilli(1700000000000) },
	})
	mgr := app.NewRecordingManager(app.RecordingManagerConfig{
		Connections: conns,
		Directory:   dir,
		Registry:    reg,
		SelfID:      "bot",
	})
	return &managerFixture{
		mgr: mgr, conns: conns, platform: platform, joins: joins,
		dir: dir, tc: tc, out: out,
	}
}
