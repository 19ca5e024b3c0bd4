// Package queue provides the serialized execution context that session
// callbacks are marshalled onto before they touch shared state.
package queue

import (
	"sync"

	equeue "github.com/eapache/queue"
	"github.com/rs/zerolog"
)

// Serial runs posted closures one at a time, in submission order, on a
// single goroutine. Post never blocks.
type Serial struct {
	mu      sync.Mutex
	pending *equeue.Queue
	wake    chan struct{}
	closed  bool
	done    chan struct{}
	log     zerolog.Logger
}

// Option configures a Serial queue.
type Option func(*Serial)

// WithLogger sets the logger used to report recovered panics.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Serial) {
		s.log = l
	}
}

// New starts a Serial queue.
func New(opts ...Option) *Serial {
	s := &Serial{
		pending: equeue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.loop()
	return s
}

// Post schedules fn. Closures posted after Close are dropped.
func (s *Serial) Post(fn func()) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending.Add(fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Len reports how many closures are waiting to run.
func (s *Serial) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Length()
}

// Close stops intake, runs everything already posted and waits for it.
func (s *Serial) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
}

func (s *Serial) loop() {
	defer close(s.done)

	for {
		fn, closed := s.next()
		if fn != nil {
			s.run(fn)
			continue
		}
		if closed {
			return
		}
		<-s.wake
	}
}

func (s *Serial) next() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending.Length() == 0 {
		return nil, s.closed
	}
	return s.pending.Remove().(func()), s.closed
}

func (s *Serial) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("Method", "run").Interface("Panic", r).Msg("queued task panicked")
		}
	}()
	fn()
}
