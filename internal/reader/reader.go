// Package reader owns the serial link lifecycle: a background read loop
// that frames telemetry lines, survives transient link failures with a
// bounded reconnect policy, and emits events to the consumer without
// ever blocking on it.
package reader

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// LinkState describes the reader's view of the serial link.
type LinkState int

const (
	Disconnected LinkState = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

// String returns a human-readable state name.
func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventType discriminates the three observable reader events.
type EventType int

const (
	// EventLine carries one raw, non-empty telemetry line.
	EventLine EventType = iota
	// EventConnected signals the transport opened successfully.
	EventConnected
	// EventStatus carries a human-readable status or error message.
	EventStatus
)

// Event is one observation emitted by the read loop.
type Event struct {
	Type EventType
	Line string // raw text for EventLine
	Port string // endpoint name for EventConnected
	// Message is the status text for EventStatus.
	Message string
	// Terminal marks a status after which the loop exits.
	Terminal bool
}

// DefaultMaxReconnect bounds retry attempts after a link failure.
const DefaultMaxReconnect = 3

const (
	defaultIdleDelay   = 10 * time.Millisecond
	defaultRetryDelay  = time.Second
	defaultGlitchDelay = 100 * time.Millisecond
	eventQueueSize     = 256
)

// Option configures a Reader.
type Option func(*Reader)

// WithMaxReconnect sets the reconnect attempt bound.
func WithMaxReconnect(n int) Option {
	return func(r *Reader) { r.maxReconnect = n }
}

// WithRetryDelay sets the pause before a reconnect attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Reader) { r.retryDelay = d }
}

// WithIdleDelay sets the yield when no bytes are pending.
func WithIdleDelay(d time.Duration) Option {
	return func(r *Reader) { r.idleDelay = d }
}

// WithGlitchDelay sets the pause after a non-transport read error.
func WithGlitchDelay(d time.Duration) Option {
	return func(r *Reader) { r.glitchDelay = d }
}

// Reader runs the serial read loop on its own goroutine. Exactly one
// loop owns the transport between Start and Stop.
type Reader struct {
	transport    Transport
	maxReconnect int
	idleDelay    time.Duration
	retryDelay   time.Duration
	glitchDelay  time.Duration

	mu       sync.Mutex
	running  bool
	state    LinkState
	reason   string
	events   chan Event
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a Reader over the given transport.
func New(transport Transport, opts ...Option) *Reader {
	r := &Reader{
		transport:    transport,
		maxReconnect: DefaultMaxReconnect,
		idleDelay:    defaultIdleDelay,
		retryDelay:   defaultRetryDelay,
		glitchDelay:  defaultGlitchDelay,
		state:        Disconnected,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the read loop. Calling Start on a running reader is a
// guarded no-op returning an error.
func (r *Reader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("reader already started on %s", r.transport.Endpoint())
	}
	r.running = true
	r.state = Connecting
	r.reason = ""
	r.events = make(chan Event, eventQueueSize)
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.run(r.events, r.stopChan)
	return nil
}

// Stop requests loop termination, releases the transport and blocks
// until the loop goroutine has exited, so the caller can safely start a
// new session afterwards. Stopping a stopped reader is a no-op.
func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	// Unblock any in-flight transport read.
	r.transport.Close()
	r.wg.Wait()
}

// Events returns the channel the read loop emits on. It is closed when
// the loop exits. Must be called after Start.
func (r *Reader) Events() <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events
}

// State returns the current link state and, for Failed, the reason.
func (r *Reader) State() (LinkState, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.reason
}

func (r *Reader) setState(state LinkState, reason string) {
	r.mu.Lock()
	r.state = state
	r.reason = reason
	r.mu.Unlock()
}

// emit queues an event without blocking. When the consumer has fallen
// eventQueueSize events behind, the oldest information is already stale
// and the event is dropped with a log line.
func (r *Reader) emit(events chan Event, ev Event) {
	select {
	case events <- ev:
	default:
		log.Printf("reader: event queue full, dropping event type %d", ev.Type)
	}
}

// run is the read loop. It owns the transport from first open to exit.
func (r *Reader) run(events chan Event, stopChan chan struct{}) {
	defer r.wg.Done()
	defer close(events)
	defer r.transport.Close()

	opened := false
	reconnects := 0

	for {
		select {
		case <-stopChan:
			r.setState(Disconnected, "")
			return
		default:
		}

		if !opened {
			if err := r.transport.Open(); err != nil {
				if !r.handleLinkError(events, stopChan, &reconnects, err) {
					return
				}
				continue
			}
			opened = true
			r.setState(Connected, "")
			log.Printf("reader: connected to %s", r.transport.Endpoint())
			r.emit(events, Event{Type: EventConnected, Port: r.transport.Endpoint()})
		}

		line, err := r.transport.ReadLine()
		switch {
		case err == nil:
			// Only a successful read proves link health; a reopen alone
			// does not clear the reconnect accounting.
			reconnects = 0
			if line = strings.TrimSpace(line); line != "" {
				r.emit(events, Event{Type: EventLine, Line: line})
			}
		case errors.Is(err, ErrNoData):
			// Cooperative backoff so Stop stays responsive.
			if !r.pause(stopChan, r.idleDelay) {
				r.setState(Disconnected, "")
				return
			}
		case errors.Is(err, ErrUnavailable):
			msg := fmt.Sprintf("cannot open port %s: %v", r.transport.Endpoint(), err)
			r.setState(Failed, msg)
			r.emit(events, Event{Type: EventStatus, Message: msg, Terminal: true})
			return
		case errors.Is(err, ErrLinkDown):
			r.transport.Close()
			opened = false
			if !r.handleLinkError(events, stopChan, &reconnects, err) {
				return
			}
		default:
			// Decode or framing glitch on an otherwise healthy link:
			// log, pause briefly, keep the reconnect accounting intact.
			log.Printf("reader: read error on %s: %v", r.transport.Endpoint(), err)
			if !r.pause(stopChan, r.glitchDelay) {
				r.setState(Disconnected, "")
				return
			}
		}
	}
}

// handleLinkError applies the reconnect policy for a transport-level
// failure. It returns false when the loop must exit.
func (r *Reader) handleLinkError(events chan Event, stopChan chan struct{}, reconnects *int, err error) bool {
	if errors.Is(err, ErrUnavailable) {
		msg := fmt.Sprintf("cannot open port %s: %v", r.transport.Endpoint(), err)
		r.setState(Failed, msg)
		r.emit(events, Event{Type: EventStatus, Message: msg, Terminal: true})
		return false
	}

	*reconnects++
	if *reconnects <= r.maxReconnect {
		msg := fmt.Sprintf("connection lost, retrying (%d/%d)...", *reconnects, r.maxReconnect)
		log.Printf("reader: %v, %s", err, msg)
		r.setState(Reconnecting, "")
		r.emit(events, Event{Type: EventStatus, Message: msg})
		if !r.pause(stopChan, r.retryDelay) {
			r.setState(Disconnected, "")
			return false
		}
		return true
	}

	msg := fmt.Sprintf("connection to %s failed after %d attempts: %v", r.transport.Endpoint(), r.maxReconnect, err)
	log.Printf("reader: %s", msg)
	r.setState(Failed, msg)
	r.emit(events, Event{Type: EventStatus, Message: msg, Terminal: true})
	return false
}

// pause sleeps for d unless a stop request arrives first. Returns false
// when stopped.
func (r *Reader) pause(stopChan chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stopChan:
		return false
	case <-timer.C:
		return true
	}
}
