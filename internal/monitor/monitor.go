// Package monitor wires the ingestion pipeline together: the serial
// reader feeds the parser, parsed samples land in the rolling store, and
// a throttled notification tells the consumer when a redraw is worth it.
package monitor

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"cir-monitor/internal/config"
	"cir-monitor/internal/export"
	"cir-monitor/internal/parser"
	"cir-monitor/internal/reader"
	"cir-monitor/internal/store"
	"cir-monitor/internal/telemetry"
	"cir-monitor/internal/throttle"
)

// Status is a consumer-visible link status change.
type Status struct {
	State    reader.LinkState
	Message  string
	Terminal bool
}

// Stats are the session ingestion counters.
type Stats struct {
	Lines       uint64 // raw non-empty lines received
	Samples     uint64 // samples appended to the store
	ParseMisses uint64 // lines matching no grammar
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTransport substitutes the serial transport, used by tests.
func WithTransport(t reader.Transport) Option {
	return func(m *Monitor) { m.transport = t }
}

// Monitor owns one monitoring session: reader, parser, store, throttle.
// The reader goroutine is the sole writer of the store; dashboard and
// export consumers read concurrently.
type Monitor struct {
	cfg       *config.Config
	transport reader.Transport
	rdr       *reader.Reader
	store     *store.RollingStore
	gate      *throttle.RenderThrottle

	updates  chan struct{}
	statuses chan Status

	lines       atomic.Uint64
	samples     atomic.Uint64
	parseMisses atomic.Uint64

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates a monitor for the given configuration.
func New(cfg *config.Config, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		store:    store.New(cfg.Monitor.BufferCapacity),
		gate:     throttle.New(cfg.Monitor.RenderInterval),
		updates:  make(chan struct{}, 1),
		statuses: make(chan Status, 16),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.transport == nil {
		m.transport = reader.NewSerialTransport(cfg.Serial.Port, cfg.Serial.BaudRate)
	}
	return m
}

// Start begins the session: launches the serial read loop and the
// consuming goroutine. Starting a running monitor is an error.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("monitor already running")
	}

	m.rdr = reader.New(m.transport, reader.WithMaxReconnect(m.cfg.Serial.MaxReconnect))
	if err := m.rdr.Start(); err != nil {
		return fmt.Errorf("failed to start serial reader: %w", err)
	}
	m.running = true

	m.wg.Add(1)
	go m.consume(m.rdr.Events())
	return nil
}

// Stop ends the session: joins the read loop, then the consuming
// goroutine. Safe to call on a stopped monitor; the store keeps its
// contents so a final export is still possible.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	rdr := m.rdr
	m.mu.Unlock()

	rdr.Stop()
	m.wg.Wait()
}

// consume drains reader events, parses lines and appends samples.
// It exits when the reader closes its event channel.
func (m *Monitor) consume(events <-chan reader.Event) {
	defer m.wg.Done()

	for ev := range events {
		switch ev.Type {
		case reader.EventLine:
			m.lines.Add(1)
			values := parser.Parse(ev.Line)
			if len(values) == 0 {
				// No grammar matched; drop silently, no sample.
				m.parseMisses.Add(1)
				continue
			}
			m.store.Append(values)
			m.samples.Add(1)
			if m.gate.ShouldRender(time.Now()) {
				m.notify()
			}
		case reader.EventConnected:
			m.pushStatus(Status{State: reader.Connected, Message: fmt.Sprintf("connected to %s", ev.Port)})
			m.notify()
		case reader.EventStatus:
			state, _ := m.rdr.State()
			m.pushStatus(Status{State: state, Message: ev.Message, Terminal: ev.Terminal})
		}
	}
}

// notify coalesces redraw notifications: a skipped one is never
// replayed, the next snapshot carries the accumulated state.
func (m *Monitor) notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

func (m *Monitor) pushStatus(st Status) {
	select {
	case m.statuses <- st:
	default:
		log.Printf("monitor: status queue full, dropping %q", st.Message)
	}
}

// Updates signals that buffered data changed enough to warrant a redraw.
func (m *Monitor) Updates() <-chan struct{} {
	return m.updates
}

// Statuses delivers link status changes for display.
func (m *Monitor) Statuses() <-chan Status {
	return m.statuses
}

// Store exposes the rolling sample buffer for snapshot reads.
func (m *Monitor) Store() *store.RollingStore {
	return m.store
}

// Stats returns the session ingestion counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Lines:       m.lines.Load(),
		Samples:     m.samples.Load(),
		ParseMisses: m.parseMisses.Load(),
	}
}

// LinkState returns the reader's current link state, Disconnected before
// the first Start.
func (m *Monitor) LinkState() (reader.LinkState, string) {
	m.mu.Lock()
	rdr := m.rdr
	m.mu.Unlock()
	if rdr == nil {
		return reader.Disconnected, ""
	}
	return rdr.State()
}

// Clear atomically empties the sample buffer and resets the index
// counter. The redraw is immediate: manual actions are not throttled.
func (m *Monitor) Clear() {
	m.store.Clear()
	m.notify()
}

// ExportCSV writes a consistent snapshot of the buffer as CSV.
func (m *Monitor) ExportCSV(w io.Writer, fields []telemetry.Field) error {
	return export.WriteCSV(w, m.store.Samples(), fields)
}

// ExportXLSX writes a consistent snapshot of the buffer as a spreadsheet.
func (m *Monitor) ExportXLSX(w io.Writer, fields []telemetry.Field) error {
	return export.WriteXLSX(w, m.store.Samples(), fields)
}

// Config returns the session configuration.
func (m *Monitor) Config() *config.Config {
	return m.cfg
}
