package audio

import (
	"sync"
	"sync/atomic"
)

// DefaultSubscriptionBuffer is the packet capacity of a subscription when
// [SubscribeOptions.Buffer] is zero. At 50 packets per second it absorbs
// roughly five seconds of consumer stall.
const DefaultSubscriptionBuffer = 256

// Subscription is an open feed of one speaker's compressed packets.
type Subscription interface {
	// UserID returns the speaker this subscription follows.
	UserID() string

	// Packets returns the receive-ordered packet channel. It is closed when
	// the subscription ends for any reason.
	Packets() <-chan Packet

	// Err reports why Packets was closed. It is nil while the subscription
	// is open and after a plain [Subscription.Unsubscribe].
	Err() error

	// Unsubscribe ends the subscription. It is idempotent.
	Unsubscribe()
}

// PacketStream is a channel-backed [Subscription] for platform adapters.
// The adapter calls [PacketStream.Deliver] from its receive loop and
// [PacketStream.End] when the underlying transport goes away.
//
// PacketStream is safe for concurrent use.
type PacketStream struct {
	userID string

	mu      sync.Mutex
	packets chan Packet
	closed  bool
	err     error

	dropped atomic.Uint64

	// onClose is invoked once after the stream ended, outside the lock.
	onClose func()
}

// NewPacketStream creates an open stream for userID. onClose, when non-nil,
// runs exactly once after the stream ends.
func NewPacketStream(userID string, opts SubscribeOptions, onClose func()) *PacketStream {
	size := opts.Buffer
	if size <= 0 {
		size = DefaultSubscriptionBuffer
	}
	s := &PacketStream{
		userID:  userID,
		packets: make(chan Packet, size),
		onClose: onClose,
	}
	return s
}

// UserID implements [Subscription].
func (s *PacketStream) UserID() string { return s.userID }

// Packets implements [Subscription].
func (s *PacketStream) Packets() <-chan Packet { return s.packets }

// Err implements [Subscription].
func (s *PacketStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe implements [Subscription].
func (s *PacketStream) Unsubscribe() { s.End(nil) }

// Deliver queues pkt without blocking. It returns false when the stream has
// ended or its buffer is full; full-buffer drops are counted in [PacketStream.Dropped].
func (s *PacketStream) Deliver(pkt Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.packets <- pkt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of packets discarded because the consumer fell
// behind.
func (s *PacketStream) Dropped() uint64 { return s.dropped.Load() }

// End closes the stream with err as the reason. Only the first call has any
// effect.
func (s *PacketStream) End(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.packets)
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose()
	}
}
