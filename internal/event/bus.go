// Package event is an in-process fan-out bus for script run events.
//
// Publishing never blocks: each subscriber owns a buffered channel, and an
// event that does not fit is dropped for that subscriber only. There is no
// replay; a subscription sees only events published after it was created.
package event

import (
	"sync"
	"sync/atomic"
	"time"
)

type Type string

const (
	ScriptOutput    Type = "scriptOutput"
	ScriptCompleted Type = "scriptCompleted"
	ScriptError     Type = "scriptError"
	ScriptStarted   Type = "scriptStarted"
	ScriptStopping  Type = "scriptStopping"
)

type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Event is the payload delivered to subscribers. Fields beyond ScriptID and
// Type are populated according to Type.
type Event struct {
	Type       Type      `json:"type"`
	ScriptID   string    `json:"scriptId"`
	ScriptName string    `json:"scriptName,omitempty"`
	OccurredAt time.Time `json:"timestamp"`

	// scriptOutput
	Stream Stream `json:"stream,omitempty"`
	Chunk  string `json:"output,omitempty"`

	// scriptStarted
	PID          int    `json:"pid,omitempty"`
	Command      string `json:"command,omitempty"`
	RepositoryID string `json:"repositoryId,omitempty"`

	// scriptCompleted / scriptError
	ExitCode *int     `json:"exitCode,omitempty"`
	Error    string   `json:"error,omitempty"`
	Output   []string `json:"fullOutput,omitempty"`
}

const DefaultBuffer = 256

type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

type Option func(*Subscription)

// WithTypes limits delivery to the given event types.
func WithTypes(types ...Type) Option {
	return func(s *Subscription) {
		if s.types == nil {
			s.types = make(map[Type]struct{}, len(types))
		}
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
}

// WithScript limits delivery to events of one script.
func WithScript(id string) Option {
	return func(s *Subscription) { s.scriptID = id }
}

// WithBuffer sets the channel capacity. Values below 1 fall back to DefaultBuffer.
func WithBuffer(n int) Option {
	return func(s *Subscription) { s.buffer = n }
}

type Subscription struct {
	bus      *Bus
	id       uint64
	ch       chan Event
	types    map[Type]struct{}
	scriptID string
	buffer   int
	dropped  atomic.Uint64
	once     sync.Once
}

func (b *Bus) Subscribe(opts ...Option) *Subscription {
	s := &Subscription{bus: b, buffer: DefaultBuffer}
	for _, o := range opts {
		o(s)
	}
	if s.buffer < 1 {
		s.buffer = DefaultBuffer
	}
	s.ch = make(chan Event, s.buffer)
	s.id = b.nextID.Add(1)

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	return s
}

// Publish delivers e to every matching subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.matches(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Len reports the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *Subscription) matches(e Event) bool {
	if s.scriptID != "" && s.scriptID != e.ScriptID {
		return false
	}
	if s.types != nil {
		if _, ok := s.types[e.Type]; !ok {
			return false
		}
	}
	return true
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes the channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}
