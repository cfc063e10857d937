package recorder

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/glyphrec/pkg/audio"
	"github.com/MrWong99/glyphrec/pkg/audio/opus"
)

// FrameDecoder decodes one compressed packet into interleaved PCM bytes.
// *opus.Decoder satisfies it.
type FrameDecoder interface {
	Decode(packet []byte) ([]byte, error)
}

var _ FrameDecoder = (*opus.Decoder)(nil)

// errDecoderClosed is returned by Decoder.Write after Close.
var errDecoderClosed = errors.New("recorder: decoder closed")

const (
	// defaultFlushFrames is how many 20 ms frames are coalesced before a
	// downstream write.
	defaultFlushFrames = 5

	// defaultMaxGap bounds how much silence a single RTP timestamp jump may
	// insert. Larger jumps are treated as a clock discontinuity.
	defaultMaxGap = 30 * time.Minute

	// reorderWindow is how far behind the expected RTP timestamp a packet
	// may arrive and still be treated as a late packet rather than a
	// discontinuity.
	reorderWindow = 500 * time.Millisecond
)

// DecoderConfig configures a [Decoder]. The zero value selects Discord's
// 48 kHz stereo Opus parameters.
type DecoderConfig struct {
	// Format is the PCM format produced by the FrameDecoder.
	Format audio.Format

	// ClockRate is the RTP timestamp clock in Hz.
	ClockRate int

	// FlushBytes is the amount of PCM buffered before writing downstream.
	FlushBytes int

	// MaxGap bounds a single timestamp-derived silence fill.
	MaxGap time.Duration

	// Start is the wall-clock instant the recording began. Silence before
	// the first packet is inserted so the track aligns with Start.
	Start time.Time

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (c DecoderConfig) withDefaults() DecoderConfig {
	if c.Format.SampleRate == 0 {
		c.Format = opus.Format
	}
	if c.ClockRate == 0 {
		c.ClockRate = opus.SampleRate
	}
	if c.FlushBytes <= 0 {
		c.FlushBytes = c.Format.BytesFor(defaultFlushFrames * opus.FrameSizeMs * time.Millisecond)
	}
	if c.MaxGap <= 0 {
		c.MaxGap = defaultMaxGap
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Start.IsZero() {
		c.Start = c.Now()
	}
	return c
}

// Decoder turns a speaker's packets into a continuous PCM byte stream
// written to a downstream [io.Writer]. Packets are decoded in the order they
// are written. Gaps in the RTP timeline (the speaker paused) are filled with
// silence so the output duration follows the wall clock.
//
// Decoded PCM is coalesced in memory and written downstream in chunks of
// FlushBytes. [Decoder.Close] flushes the remainder.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	codec FrameDecoder
	out   io.Writer
	cfg   DecoderConfig

	buf     []byte
	written int64
	packets int

	started     bool
	nextTS      uint32
	lastTS      uint32
	lastSeq     uint16
	lastArrival time.Time
	lastDur     time.Duration

	closed bool
}

// NewDecoder creates a Decoder writing PCM produced by codec to out.
func NewDecoder(codec FrameDecoder, out io.Writer, cfg DecoderConfig) *Decoder {
	cfg = cfg.withDefaults()
	return &Decoder{
		codec: codec,
		out:   out,
		cfg:   cfg,
		buf:   make([]byte, 0, cfg.FlushBytes),
	}
}

// Write decodes pkt and appends its PCM, preceded by any silence the
// timeline calls for. Errors wrap [ErrDecode] or [ErrWrite].
func (d *Decoder) Write(pkt audio.Packet) error {
	if d.closed {
		return errDecoderClosed
	}
	if len(pkt.Opus) == 0 {
		return nil
	}
	if d.started && pkt.Sequence == d.lastSeq && pkt.Timestamp == d.lastTS {
		// Retransmitted duplicate.
		return nil
	}

	pcm, err := d.codec.Decode(pkt.Opus)
	if err != nil {
		return fmt.Errorf("%w: packet seq %d: %w", ErrDecode, pkt.Sequence, err)
	}
	now := d.cfg.Now()

	resync, err := d.fill(pkt, now)
	if err != nil {
		return err
	}

	dur := d.cfg.Format.Duration(len(pcm))
	end := pkt.Timestamp + uint32(d.samples(dur))
	if resync || int32(end-d.nextTS) > 0 {
		d.nextTS = end
	}
	d.started = true
	d.lastSeq = pkt.Sequence
	d.lastTS = pkt.Timestamp
	d.lastArrival = now
	d.lastDur = dur
	d.packets++

	return d.emit(pcm)
}

// fill inserts the silence preceding pkt. It reports resync when the RTP
// timeline had to be re-anchored on pkt.
func (d *Decoder) fill(pkt audio.Packet, now time.Time) (resync bool, err error) {
	if !d.started {
		return true, d.silence(now.Sub(d.cfg.Start))
	}
	gap := time.Duration(int32(pkt.Timestamp-d.nextTS)) * time.Second / time.Duration(d.cfg.ClockRate)
	switch {
	case gap > 0 && gap <= d.cfg.MaxGap:
		return false, d.silence(gap)
	case gap > d.cfg.MaxGap || gap < -reorderWindow:
		// The RTP clock jumped (new SSRC after a reconnect); fall back to
		// the arrival time of the previous packet.
		return true, d.silence(now.Sub(d.lastArrival) - d.lastDur)
	default:
		// In sequence, or a late packet appended where it arrived.
		return false, nil
	}
}

// silence appends dur worth of zero samples, rounded down to whole 20 ms
// frames so sub-frame jitter is ignored.
func (d *Decoder) silence(dur time.Duration) error {
	frame := opus.FrameSizeMs * time.Millisecond
	dur = dur.Truncate(frame)
	if dur <= 0 {
		return nil
	}
	n := d.cfg.Format.BytesFor(dur)
	for n > 0 {
		chunk := min(n, d.cfg.FlushBytes-len(d.buf))
		d.buf = append(d.buf, make([]byte, chunk)...)
		n -= chunk
		if len(d.buf) >= d.cfg.FlushBytes {
			if err := d.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Decoder) emit(pcm []byte) error {
	d.buf = append(d.buf, pcm...)
	if len(d.buf) < d.cfg.FlushBytes {
		return nil
	}
	return d.flush()
}

func (d *Decoder) flush() error {
	if len(d.buf) == 0 {
		return nil
	}
	n, err := d.out.Write(d.buf)
	d.written += int64(n)
	d.buf = d.buf[:0]
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

// Close flushes buffered PCM downstream and ends the stream. Later calls
// return nil and later writes fail.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.flush()
}

// Written returns the number of PCM bytes handed downstream.
func (d *Decoder) Written() int64 { return d.written }

// Packets returns the number of packets decoded.
func (d *Decoder) Packets() int { return d.packets }

func (d *Decoder) samples(dur time.Duration) int64 {
	return int64(dur) * int64(d.cfg.ClockRate) / int64(time.Second)
}
