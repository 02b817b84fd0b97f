// Package fanout implements a bounded one-to-many broadcast of text frames.
//
// Every subscriber sees every frame published after it subscribed, in
// publish order. The fanout retains only the most recent frames; a
// subscriber that falls further behind than that loses its oldest unread
// frames and is told how many it missed. Publishers never block.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrLagged is matched by *LagError.
	ErrLagged = errors.New("fanout: subscriber lagged")
	// ErrClosed is returned by Recv once the fanout is closed and drained.
	ErrClosed = errors.New("fanout: closed")
)

// Frame is an already encoded message. Strings keep it immutable once published.
type Frame = string

// LagError reports how many frames a subscriber lost to overwrite.
type LagError struct {
	Missed uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("fanout: subscriber lagged, missed %d frames", e.Missed)
}

// Is lets errors.Is(err, ErrLagged) match.
func (e *LagError) Is(target error) bool {
	return target == ErrLagged
}

// Fanout is safe for concurrent Publish and Subscribe.
type Fanout struct {
	mu          sync.Mutex
	ring        []Frame
	next        uint64 // sequence number of the next published frame
	wake        chan struct{}
	closed      bool
	subscribers int
}

// New creates a fanout retaining up to capacity frames per lagging subscriber.
func New(capacity int) *Fanout {
	if capacity <= 0 {
		capacity = 1
	}
	return &Fanout{
		ring: make([]Frame, capacity),
		wake: make(chan struct{}),
	}
}

// Publish appends frame to the stream. It never blocks; once the fanout
// is closed it is a no-op.
func (f *Fanout) Publish(frame Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.ring[f.next%uint64(len(f.ring))] = frame
	f.next++

	close(f.wake)
	f.wake = make(chan struct{})
}

// Subscribe returns a handle that observes frames published from now on.
func (f *Fanout) Subscribe() *Subscriber {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribers++
	return &Subscriber{fanout: f, cursor: f.next}
}

// Subscribers returns the number of open subscriber handles.
func (f *Fanout) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribers
}

// Close stops the stream. Subscribers may still drain retained frames
// before receiving ErrClosed.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	close(f.wake)
}

// oldest returns the sequence number of the oldest retained frame.
func (f *Fanout) oldest() uint64 {
	capacity := uint64(len(f.ring))
	if f.next < capacity {
		return 0
	}
	return f.next - capacity
}

// Subscriber is a read handle owned by a single goroutine.
type Subscriber struct {
	fanout   *Fanout
	cursor   uint64
	released bool
}

// Recv blocks for the next frame. A *LagError means frames were dropped;
// the subscriber has been moved to the oldest retained frame and the next
// call continues from there.
func (s *Subscriber) Recv(ctx context.Context) (Frame, error) {
	f := s.fanout
	for {
		f.mu.Lock()
		if s.cursor < f.next {
			if oldest := f.oldest(); s.cursor < oldest {
				missed := oldest - s.cursor
				s.cursor = oldest
				f.mu.Unlock()
				return "", &LagError{Missed: missed}
			}
			frame := f.ring[s.cursor%uint64(len(f.ring))]
			s.cursor++
			f.mu.Unlock()
			return frame, nil
		}
		if f.closed {
			f.mu.Unlock()
			return "", ErrClosed
		}
		wake := f.wake
		f.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close releases the handle. It is idempotent.
func (s *Subscriber) Close() {
	f := s.fanout
	f.mu.Lock()
	defer f.mu.Unlock()

	if s.released {
		return
	}
	s.released = true
	f.subscribers--
}
