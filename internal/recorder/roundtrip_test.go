package recorder_test

import (
	"bytes"
	"math"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/MrWong99/glyphrec/internal/recorder"
	"github.com/MrWong99/glyphrec/pkg/audio"
	"github.com/MrWong99/glyphrec/pkg/audio/opus"
)

// toneFrame returns one 20 ms stereo frame of a 440 Hz sine starting at
// sample offset n.
func toneFrame(n int) []byte {
	pcm := make([]int16, opus.FrameSize*opus.Channels)
	for i := range opus.FrameSize {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(n+i)/opus.SampleRate))
		pcm[2*i], pcm[2*i+1] = v, v
	}
	return opus.Int16sToBytes(pcm)
}

// TestRoundTrip_OpusToStaging speaks for 2 s, pauses 1 s and speaks 2 s
// more through a real Opus encoder and decoder. The staged PCM must last
// 5 s within one frame and the pause must be silent.
func TestRoundTrip_OpusToStaging(t *testing.T) {
	t.Parallel()

	enc, err := opus.NewEncoder()
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	codec, err := opus.NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	sink, err := recorder.OpenSink(t.TempDir(), "G1", "u-alice")
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	clock := &manualClock{now: time.UnixMilli(0)}
	dec := recorder.NewDecoder(codec, sink, recorder.DecoderConfig{Start: clock.Now(), Now: clock.Now})

	seq := 0
	speak := func(firstFrame, frames int) {
		for i := firstFrame; i < firstFrame+frames; i++ {
			payload, err := enc.Encode(toneFrame(i * opus.FrameSize))
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			pkt := audio.Packet{Sequence: uint16(seq), Timestamp: uint32(i * opus.FrameSize), Opus: payload}
			if err := dec.Write(pkt); err != nil {
				t.Fatalf("Write(seq %d): %v", seq, err)
			}
			seq++
			clock.Advance(20 * time.Millisecond)
		}
	}
	speak(0, 100)
	clock.Advance(time.Second)
	speak(150, 100)

	if err := dec.Close(); err != nil {
		t.Fatalf("decoder Close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("sink Close: %v", err)
	}

	want := opus.Format.BytesFor(5 * time.Second)
	if diff := sink.Size() - int64(want); diff < -opus.FrameBytes || diff > opus.FrameBytes {
		t.Fatalf("staged %d bytes, want %d ± one frame", sink.Size(), want)
	}

	pcm, err := os.ReadFile(sink.Path())
	if err != nil {
		t.Fatal(err)
	}
	pause := pcm[100*opus.FrameBytes : 150*opus.FrameBytes]
	if !bytes.Equal(pause, make([]byte, len(pause))) {
		t.Error("the pause between utterances is not silent")
	}
	speech := pcm[:100*opus.FrameBytes]
	if bytes.Equal(speech, make([]byte, len(speech))) {
		t.Error("the first utterance decoded to silence")
	}

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Log("ffmpeg not installed, skipping transcode")
		return
	}
	out := t.TempDir()
	f := recorder.NewFFmpeg(recorder.FFmpegConfig{OutputDir: out, Format: "wav"})
	got, err := f.Transcode(t.Context(), recorder.Job{
		Input: sink.Path(), GuildID: "G1", DisplayName: "Alice", StartedAt: time.UnixMilli(0),
	})
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	st, err := os.Stat(got)
	if err != nil {
		t.Fatal(err)
	}
	// A WAV file is its PCM plus a header far shorter than one frame.
	if header := st.Size() - sink.Size(); header < 0 || header >= opus.FrameBytes {
		t.Errorf("wav is %d bytes for %d bytes of PCM", st.Size(), sink.Size())
	}
	if _, err := os.Stat(sink.Path()); !os.IsNotExist(err) {
		t.Error("staging file should be removed after transcode")
	}
}
