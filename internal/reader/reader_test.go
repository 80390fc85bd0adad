package reader

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport scripts Open and ReadLine outcomes per call.
type fakeTransport struct {
	mu        sync.Mutex
	openCalls int
	readCalls int
	closes    int

	openFn func(call int) error
	readFn func(call int) (string, error)
}

func (f *fakeTransport) Open() error {
	f.mu.Lock()
	f.openCalls++
	call := f.openCalls
	f.mu.Unlock()
	if f.openFn == nil {
		return nil
	}
	return f.openFn(call)
}

func (f *fakeTransport) ReadLine() (string, error) {
	f.mu.Lock()
	f.readCalls++
	call := f.readCalls
	f.mu.Unlock()
	if f.readFn == nil {
		return "", ErrNoData
	}
	return f.readFn(call)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Endpoint() string { return "FAKE0" }

func (f *fakeTransport) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls
}

// fastOpts keeps test loops snappy.
func fastOpts() []Option {
	return []Option{
		WithIdleDelay(time.Millisecond),
		WithRetryDelay(time.Millisecond),
		WithGlitchDelay(time.Millisecond),
	}
}

func collectEvents(t *testing.T, events <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
}

func TestReaderEmitsConnectedThenLines(t *testing.T) {
	lines := []string{"D:12.5", "", "  ", "azimuth=45.0"}
	ft := &fakeTransport{
		readFn: func(call int) (string, error) {
			if call <= len(lines) {
				return lines[call-1], nil
			}
			return "", ErrNoData
		},
	}

	r := New(ft, fastOpts()...)
	require.NoError(t, r.Start())
	events := r.Events()

	var got []Event
	deadline := time.After(time.Second)
	for len(got) < 3 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	r.Stop()

	assert.Equal(t, EventConnected, got[0].Type)
	assert.Equal(t, "FAKE0", got[0].Port)
	assert.Equal(t, EventLine, got[1].Type)
	assert.Equal(t, "D:12.5", got[1].Line)
	// Empty and whitespace-only lines are dropped before emission.
	assert.Equal(t, "azimuth=45.0", got[2].Line)
}

func TestReaderReconnectPolicyExhaustion(t *testing.T) {
	// Every read fails at the transport level. With the bound at 3 the
	// reader must emit exactly 3 retry statuses, then a terminal failure,
	// and never attempt a 5th open.
	ft := &fakeTransport{
		readFn: func(call int) (string, error) {
			return "", fmt.Errorf("%w: unplugged", ErrLinkDown)
		},
	}

	r := New(ft, append(fastOpts(), WithMaxReconnect(3))...)
	require.NoError(t, r.Start())

	events := collectEvents(t, r.Events(), 2*time.Second)
	r.Stop()

	var retries, terminals int
	for _, ev := range events {
		if ev.Type != EventStatus {
			continue
		}
		if ev.Terminal {
			terminals++
		} else if strings.Contains(ev.Message, "retrying") {
			retries++
		}
	}

	assert.Equal(t, 3, retries, "expected exactly 3 retry statuses")
	assert.Equal(t, 1, terminals, "expected a single terminal status")
	assert.Equal(t, 4, ft.opens(), "no open attempt past the 4th failure")

	state, reason := r.State()
	assert.Equal(t, Failed, state)
	assert.Contains(t, reason, "FAKE0")
}

func TestReaderRetryMessagesCountAttempts(t *testing.T) {
	ft := &fakeTransport{
		readFn: func(call int) (string, error) {
			return "", fmt.Errorf("%w: unplugged", ErrLinkDown)
		},
	}

	r := New(ft, append(fastOpts(), WithMaxReconnect(2))...)
	require.NoError(t, r.Start())
	events := collectEvents(t, r.Events(), 2*time.Second)
	r.Stop()

	var msgs []string
	for _, ev := range events {
		if ev.Type == EventStatus && !ev.Terminal {
			msgs = append(msgs, ev.Message)
		}
	}
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "(1/2)")
	assert.Contains(t, msgs[1], "(2/2)")
}

func TestReaderSuccessfulReadResetsReconnectCount(t *testing.T) {
	// Link drops twice, but each reopen is followed by a good read. The
	// counter must reset on the reads, so even a bound of 1 is never
	// exhausted by non-consecutive failures.
	ft := &fakeTransport{
		readFn: func(call int) (string, error) {
			switch call {
			case 1, 3:
				return "", fmt.Errorf("%w: unplugged", ErrLinkDown)
			case 2:
				return "D:1", nil
			case 4:
				return "D:2", nil
			}
			return "", ErrNoData
		},
	}

	r := New(ft, append(fastOpts(), WithMaxReconnect(1))...)
	require.NoError(t, r.Start())

	events := collectEvents(t, r.Events(), 300*time.Millisecond)
	r.Stop()

	var lines []string
	var retries, terminals int
	for _, ev := range events {
		switch ev.Type {
		case EventLine:
			lines = append(lines, ev.Line)
		case EventStatus:
			if ev.Terminal {
				terminals++
			} else if strings.Contains(ev.Message, "retrying") {
				retries++
			}
		}
	}

	assert.Equal(t, []string{"D:1", "D:2"}, lines)
	assert.Equal(t, 2, retries, "each drop retries from (1/1)")
	assert.Zero(t, terminals, "interleaved good reads must keep the link alive")
}

func TestReaderUnavailableEndpointIsTerminal(t *testing.T) {
	ft := &fakeTransport{
		openFn: func(call int) error {
			return fmt.Errorf("%w: no such port", ErrUnavailable)
		},
	}

	r := New(ft, fastOpts()...)
	require.NoError(t, r.Start())
	events := collectEvents(t, r.Events(), time.Second)
	r.Stop()

	require.Len(t, events, 1)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.True(t, events[0].Terminal)
	assert.Equal(t, 1, ft.opens(), "unavailable endpoints are not retried")

	state, _ := r.State()
	assert.Equal(t, Failed, state)
}

func TestReaderGlitchDoesNotTouchReconnectAccounting(t *testing.T) {
	// A few malformed-frame errors, then clean lines. The reader must
	// ride through without a single status event or extra open.
	ft := &fakeTransport{
		readFn: func(call int) (string, error) {
			if call <= 3 {
				return "", fmt.Errorf("frame overrun: 65536 bytes without line delimiter")
			}
			if call == 4 {
				return "D:1.0", nil
			}
			return "", ErrNoData
		},
	}

	r := New(ft, fastOpts()...)
	require.NoError(t, r.Start())

	events := r.Events()
	var line Event
	deadline := time.After(time.Second)
	sawStatus := false
waiting:
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventStatus:
				sawStatus = true
			case EventLine:
				line = ev
				break waiting
			}
		case <-deadline:
			t.Fatal("timed out waiting for line after glitches")
		}
	}
	r.Stop()

	assert.False(t, sawStatus, "glitches must not produce status events")
	assert.Equal(t, "D:1.0", line.Line)
	assert.Equal(t, 1, ft.opens())
}

func TestReaderStopDuringRetryBackoff(t *testing.T) {
	ft := &fakeTransport{
		readFn: func(call int) (string, error) {
			return "", fmt.Errorf("%w: unplugged", ErrLinkDown)
		},
	}

	// Long retry pause; Stop must still return promptly.
	r := New(ft, WithIdleDelay(time.Millisecond), WithRetryDelay(10*time.Second), WithMaxReconnect(3))
	require.NoError(t, r.Start())

	// Wait for the first retry status so the loop is inside the backoff.
	deadline := time.After(time.Second)
	for {
		stop := false
		select {
		case ev := <-r.Events():
			if ev.Type == EventStatus {
				stop = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for retry status")
		}
		if stop {
			break
		}
	}

	start := time.Now()
	r.Stop()
	assert.Less(t, time.Since(start), time.Second, "Stop must interrupt the retry pause")
}

func TestReaderDoubleStartGuard(t *testing.T) {
	r := New(&fakeTransport{}, fastOpts()...)
	require.NoError(t, r.Start())
	assert.Error(t, r.Start())
	r.Stop()
}

func TestReaderRestartAfterStop(t *testing.T) {
	ft := &fakeTransport{
		readFn: func(call int) (string, error) {
			return fmt.Sprintf("D:%d", call), nil
		},
	}

	r := New(ft, fastOpts()...)
	require.NoError(t, r.Start())
	r.Stop()

	require.NoError(t, r.Start())
	events := r.Events()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventLine {
				r.Stop()
				return
			}
		case <-deadline:
			t.Fatal("no line after restart")
		}
	}
}

func TestReaderEventChannelClosesOnExit(t *testing.T) {
	ft := &fakeTransport{
		openFn: func(call int) error {
			return fmt.Errorf("%w: gone", ErrUnavailable)
		},
	}

	r := New(ft, fastOpts()...)
	require.NoError(t, r.Start())

	events := r.Events()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				r.Stop()
				return
			}
		case <-deadline:
			t.Fatal("event channel never closed")
		}
	}
}
