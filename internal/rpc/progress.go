package rpc

import (
	"sync"
	"time"

	"github.com/rickgao/docrelay/internal/metrics"
	"github.com/rickgao/docrelay/internal/protocol"
)

// ProgressEvent is one progress notification for a command.
type ProgressEvent struct {
	CommandID  string
	Channel    string
	Data       protocol.ProgressData
	ReceivedAt time.Time
}

type subscriber struct {
	commandID string // empty = all commands
	ch        chan ProgressEvent
}

// ProgressStream fans progress events out to subscribers. Delivery never
// blocks; a subscriber whose buffer is full misses the event.
type ProgressStream struct {
	metrics *metrics.RPCMetrics

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

// NewProgressStream creates a stream. m may be nil.
func NewProgressStream(m *metrics.RPCMetrics) *ProgressStream {
	return &ProgressStream{
		metrics: m,
		subs:    make(map[uint64]*subscriber),
	}
}

// Subscribe registers for events of commandID, or all events when it is
// empty. The returned func releases the subscription and closes the channel.
func (s *ProgressStream) Subscribe(commandID string, buffer int) (<-chan ProgressEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan ProgressEvent, buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = &subscriber{commandID: commandID, ch: ch}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub.ch)
			}
			s.mu.Unlock()
		})
	}
}

// Publish delivers ev to matching subscribers and returns how many got it.
func (s *ProgressStream) Publish(ev ProgressEvent) int {
	s.metrics.Progress()

	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0
	for _, sub := range s.subs {
		if sub.commandID != "" && sub.commandID != ev.CommandID {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			s.metrics.ProgressDropped()
		}
	}
	return delivered
}

// Subscribers returns the number of active subscriptions.
func (s *ProgressStream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close ends every subscription.
func (s *ProgressStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
}
