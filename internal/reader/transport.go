package reader

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.bug.st/serial"
)

// Sentinel errors used to classify transport failures. The read loop
// keys its recovery policy off these, not off concrete serial errors.
var (
	// ErrNoData means no complete line arrived within the read timeout.
	// The link is healthy; the caller should yield and poll again.
	ErrNoData = errors.New("no data pending")

	// ErrLinkDown marks a transient transport failure worth a reconnect.
	ErrLinkDown = errors.New("serial link down")

	// ErrUnavailable marks a terminal condition: the endpoint does not
	// exist or cannot ever be opened. Not retried.
	ErrUnavailable = errors.New("serial endpoint unavailable")
)

// SupportedBaudRates is the enumerated set of accepted baud rates.
var SupportedBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 921600}

// ValidBaudRate reports whether baud is one of the supported rates.
func ValidBaudRate(baud int) bool {
	for _, b := range SupportedBaudRates {
		if b == baud {
			return true
		}
	}
	return false
}

// Transport is the narrow seam the read loop depends on: open/close, a
// line read with a timeout, and error classification through the
// sentinel errors above. Production code uses the serial implementation;
// tests substitute a fake.
type Transport interface {
	// Open establishes the connection. Returns ErrUnavailable (wrapped)
	// when the endpoint cannot exist, any other error for transient
	// failures.
	Open() error

	// ReadLine returns the next complete line without its delimiter,
	// leniently decoded. Returns ErrNoData when nothing is pending,
	// an ErrLinkDown-wrapped error when the link fails.
	ReadLine() (string, error)

	// Close releases the connection. Safe to call when not open.
	Close() error

	// Endpoint names the underlying endpoint for status messages.
	Endpoint() string
}

// maxPendingBytes bounds the line-assembly buffer. A run of bytes this
// long with no delimiter is a framing glitch, not a line.
const maxPendingBytes = 64 * 1024

// serialTransport implements Transport on go.bug.st/serial.
// The port field is guarded: Close may be called from another goroutine
// to unblock an in-flight read.
type serialTransport struct {
	name    string
	mode    *serial.Mode
	timeout time.Duration

	mu      sync.Mutex
	port    serial.Port
	pending []byte
	buf     []byte
}

func (t *serialTransport) currentPort() serial.Port {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

// NewSerialTransport creates a Transport for the named serial endpoint.
func NewSerialTransport(name string, baudRate int) Transport {
	return &serialTransport{
		name: name,
		mode: &serial.Mode{
			BaudRate: baudRate,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		},
		timeout: 10 * time.Millisecond,
		buf:     make([]byte, 4096),
	}
}

func (t *serialTransport) Open() error {
	port, err := serial.Open(t.name, t.mode)
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) {
			switch portErr.Code() {
			case serial.PortNotFound, serial.InvalidSerialPort:
				return fmt.Errorf("%w: %s: %v", ErrUnavailable, t.name, err)
			}
		}
		return fmt.Errorf("%w: open %s: %v", ErrLinkDown, t.name, err)
	}
	if err := port.SetReadTimeout(t.timeout); err != nil {
		port.Close()
		return fmt.Errorf("%w: set read timeout on %s: %v", ErrLinkDown, t.name, err)
	}
	t.mu.Lock()
	t.port = port
	t.pending = t.pending[:0]
	t.mu.Unlock()
	return nil
}

func (t *serialTransport) ReadLine() (string, error) {
	port := t.currentPort()
	if port == nil {
		return "", fmt.Errorf("%w: port not open", ErrLinkDown)
	}

	// A full line may already be buffered from a previous read.
	if line, ok := t.takeLine(); ok {
		return line, nil
	}

	n, err := port.Read(t.buf)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrLinkDown, t.name, err)
	}
	if n == 0 {
		// Read timeout expired with nothing pending.
		return "", ErrNoData
	}

	t.pending = append(t.pending, t.buf[:n]...)
	if line, ok := t.takeLine(); ok {
		return line, nil
	}
	if len(t.pending) > maxPendingBytes {
		t.pending = t.pending[:0]
		return "", fmt.Errorf("frame overrun: %d bytes without line delimiter", maxPendingBytes)
	}
	return "", ErrNoData
}

// takeLine extracts one delimiter-terminated line from the pending
// buffer, decoded leniently: invalid byte sequences are replaced, never
// fatal.
func (t *serialTransport) takeLine() (string, bool) {
	idx := -1
	for i, b := range t.pending {
		if b == '\n' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}
	raw := t.pending[:idx]
	t.pending = t.pending[idx+1:]
	line := strings.ToValidUTF8(string(raw), string(utf8.RuneError))
	return strings.TrimRight(line, "\r"), true
}

func (t *serialTransport) Close() error {
	t.mu.Lock()
	port := t.port
	t.port = nil
	t.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

func (t *serialTransport) Endpoint() string {
	return t.name
}

// ListPorts enumerates the serial endpoints visible on this host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}
