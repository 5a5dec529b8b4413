package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tottag/controller/internal/metrics"
	"tottag/controller/internal/queue"
)

// DefaultBuffer is the per-subscriber backlog before events are dropped for that subscriber.
const DefaultBuffer = 256

// Stream is the outbound event FIFO. Emit never blocks; one Run loop
// delivers events in order to every subscriber.
type Stream struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	pending *queue.Queue[Event]

	mu   sync.Mutex
	seq  uint64
	subs map[*Subscription]struct{}
}

func NewStream(log zerolog.Logger, m *metrics.Metrics) *Stream {
	return &Stream{
		log:     log,
		metrics: m,
		now:     time.Now,
		pending: queue.New[Event](),
		subs:    map[*Subscription]struct{}{},
	}
}

// Emit stamps and enqueues an event.
func (s *Stream) Emit(kind Kind, intentID string, data any) Event {
	s.mu.Lock()
	s.seq++
	ev := Event{Seq: s.seq, Kind: kind, IntentID: intentID, Time: s.now().UTC(), Data: data}
	s.pending.Push(ev)
	s.mu.Unlock()

	s.metrics.IncEvent(string(kind))
	return ev
}

// Run delivers events until ctx ends, then closes every subscription.
func (s *Stream) Run(ctx context.Context) {
	defer s.closeAll()
	for {
		ev, err := s.pending.Pop(ctx)
		if err != nil {
			return
		}
		s.deliver(ev)
	}
}

func (s *Stream) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
			s.metrics.IncEventDropped()
			s.log.Warn().Str("subscriber", sub.name).Uint64("seq", ev.Seq).Str("kind", string(ev.Kind)).Msg("subscriber backlog full; event dropped")
		}
	}
}

// Subscription receives events emitted after it was created.
type Subscription struct {
	C <-chan Event

	name   string
	ch     chan Event
	stream *Stream
	closed bool
}

func (s *Stream) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, name: name, ch: ch, stream: s}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Close stops delivery and closes C. It is safe to call more than once.
func (sub *Subscription) Close() {
	s := sub.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(s.subs, sub)
	close(sub.ch)
}

func (s *Stream) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		sub.closed = true
		close(sub.ch)
	}
	s.subs = map[*Subscription]struct{}{}
}
