package recorder_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/glyphrec/internal/recorder"
	"github.com/MrWong99/glyphrec/pkg/audio/opus"
)

// badPacket makes fakeCodec fail.
var badPacket = []byte{0xFF}

// fakeCodec decodes every packet into one 20 ms frame of a constant sample
// value taken from the first payload byte.
type fakeCodec struct{}

func (fakeCodec) Decode(packet []byte) ([]byte, error) {
	if packet[0] == badPacket[0] {
		return nil, errors.New("corrupted frame")
	}
	pcm := make([]byte, opus.FrameBytes)
	for i := range pcm {
		pcm[i] = packet[0]
	}
	return pcm, nil
}

func newFakeCodec() (recorder.FrameDecoder, error) { return fakeCodec{}, nil }

// fakeTranscoder records jobs and "transcodes" by renaming the staging file
// to the artifact path.
type fakeTranscoder struct {
	dir string
	err error

	// entered, when set, receives one value per Transcode call before
	// release is awaited.
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	jobs  []recorder.Job
	sizes map[string]int64
}

func (f *fakeTranscoder) Transcode(ctx context.Context, job recorder.Job) (string, error) {
	defer os.Remove(job.Input)

	st, statErr := os.Stat(job.Input)
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	if f.sizes == nil {
		f.sizes = make(map[string]int64)
	}
	if statErr == nil {
		f.sizes[job.DisplayName] = st.Size()
	}
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if statErr != nil {
		return "", statErr
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

func (f *fakeTranscoder) Size(displayName string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sizes[displayName]
}

// fixedClock returns a clock frozen at unix millisecond ms.
func fixedClock(ms int64) func() time.Time {
	t := time.UnixMilli(ms)
	return func() time.Time { return t }
}

// manualClock is a clock advanced explicitly by the test.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
