package audio

import (
	"context"
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of a PCM stream.
// All PCM in this package is interleaved signed 16-bit little-endian.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameBytes returns the size of one sample frame (one sample per channel).
func (f Format) FrameBytes() int { return f.Channels * 2 }

// BytesFor returns the number of PCM bytes covering d in this format,
// rounded down to whole sample frames.
func (f Format) BytesFor(d time.Duration) int {
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return int(frames) * f.FrameBytes()
}

// Duration returns the playback time of n PCM bytes in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := int64(n / f.FrameBytes())
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Convert resamples and remixes pcm from src to dst. Only mono and stereo
// are supported for channel conversion; other layouts pass through with
// their channel count unchanged. A trailing partial sample frame is ignored.
func Convert(pcm []byte, src, dst Format) []byte {
	if src == dst {
		return pcm
	}
	// Resample before upmixing so fewer channels are interpolated.
	if src.Channels <= dst.Channels {
		pcm = Resample(pcm, src.Channels, src.SampleRate, dst.SampleRate)
		return Remix(pcm, src.Channels, dst.Channels)
	}
	pcm = Remix(pcm, src.Channels, dst.Channels)
	return Resample(pcm, dst.Channels, src.SampleRate, dst.SampleRate)
}

// Remix converts between mono and stereo. Mono is duplicated into both
// channels; stereo is averaged. Any other combination returns pcm unchanged.
func Remix(pcm []byte, from, to int) []byte {
	switch {
	case from == 1 && to == 2:
		n := len(pcm) / 2
		out := make([]byte, n*4)
		for i := range n {
			copy(out[i*4:i*4+2], pcm[i*2:i*2+2])
			copy(out[i*4+2:i*4+4], pcm[i*2:i*2+2])
		}
		return out
	case from == 2 && to == 1:
		n := len(pcm) / 4
		out := make([]byte, n*2)
		for i := range n {
			l := int32(sampleAt(pcm, i*2))
			r := int32(sampleAt(pcm, i*2+1))
			putSample(out, i, int16((l+r)/2))
		}
		return out
	default:
		return pcm
	}
}

// Resample converts interleaved pcm with the given channel count from
// srcRate to dstRate using linear interpolation. Invalid rates return pcm
// unchanged.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (channels * 2)
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]byte, dstFrames*channels*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0+(s1-s0)*frac))
		}
	}
	return out
}

// StreamPCM turns a stream of raw PCM chunks in src format into
// [AudioFrame] values in dst format. Chunk boundaries that split a sample
// frame are carried over to the next chunk. The returned channel closes
// when chunks closes or ctx is cancelled.
func StreamPCM(ctx context.Context, chunks <-chan []byte, src, dst Format) <-chan AudioFrame {
	out := make(chan AudioFrame, 8)
	go func() {
		defer close(out)
		var (
			carry []byte
			pos   time.Duration
		)
		align := src.FrameBytes()
		for {
			var chunk []byte
			select {
			case <-ctx.Done():
				return
			case c, ok := <-chunks:
				if !ok {
					return
				}
				chunk = c
			}
			buf := append(carry, chunk...)
			whole := len(buf) - len(buf)%align
			carry = append([]byte(nil), buf[whole:]...)
			if whole == 0 {
				continue
			}
			frame := AudioFrame{
				Data:       Convert(buf[:whole], src, dst),
				SampleRate: dst.SampleRate,
				Channels:   dst.Channels,
				Timestamp:  pos,
			}
			pos += src.Duration(whole)
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}
