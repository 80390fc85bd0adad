package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cir-monitor/internal/config"
	"cir-monitor/internal/monitor"
	"cir-monitor/internal/reader"
)

// idleTransport feeds a few lines, then idles forever.
type idleTransport struct {
	lines []string
	pos   int
}

func (t *idleTransport) Open() error { return nil }

func (t *idleTransport) ReadLine() (string, error) {
	if t.pos < len(t.lines) {
		line := t.lines[t.pos]
		t.pos++
		return line, nil
	}
	return "", reader.ErrNoData
}

func (t *idleTransport) Close() error { return nil }
func (t *idleTransport) Endpoint() string { return "TEST0" }

func newTestServer(t *testing.T, lines []string) (*Server, *monitor.Monitor) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Monitor.RenderInterval = time.Millisecond

	mon := monitor.New(cfg, monitor.WithTransport(&idleTransport{lines: lines}))
	require.NoError(t, mon.Start())
	t.Cleanup(mon.Stop)

	srv := New(mon)
	t.Cleanup(srv.Stop)
	return srv, mon
}

func waitForSamples(t *testing.T, mon *monitor.Monitor, n uint64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for mon.Stats().Samples < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d samples", n)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestMetaEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/meta")
	require.NoError(t, err)
	defer resp.Body.Close()

	var meta struct {
		Fields []struct {
			Name    string `json:"name"`
			Enabled bool   `json:"enabled"`
		} `json:"fields"`
		Pages    []struct{ Name string } `json:"pages"`
		Capacity int                     `json:"capacity"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))

	assert.Len(t, meta.Fields, 7)
	assert.Len(t, meta.Pages, 3)
	assert.Equal(t, 500, meta.Capacity)
	assert.Equal(t, "D", meta.Fields[0].Name)
	assert.True(t, meta.Fields[0].Enabled)
	assert.False(t, meta.Fields[1].Enabled, "fom is not enabled by default")
}

func TestExportEndpointCSV(t *testing.T) {
	srv, mon := newTestServer(t, []string{"D:12.5"})
	waitForSamples(t, mon, 1)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/export?format=csv&field=D")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Content-Disposition"), "CIR_data_")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "SampleIndex,Timestamp,DateTime,D", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",12.5"))
}

func TestExportEndpointRejectsUnknownFormat(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/export?format=tsv")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClearEndpoint(t *testing.T) {
	srv, mon := newTestServer(t, []string{"D:1", "D:2"})
	waitForSamples(t, mon, 2)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/clear", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, mon.Store().Len())

	// GET must not clear.
	resp, err = http.Get(ts.URL + "/api/clear")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebsocketReceivesSnapshotOnConnect(t *testing.T) {
	srv, mon := newTestServer(t, []string{"D:12.5"})
	waitForSamples(t, mon, 1)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var fr struct {
		Type    string                `json:"type"`
		Indices []uint64              `json:"indices"`
		Series  map[string][]*float64 `json:"series"`
	}
	require.NoError(t, json.Unmarshal(payload, &fr))

	assert.Equal(t, "samples", fr.Type)
	require.Len(t, fr.Indices, 1)
	require.NotNil(t, fr.Series["D"][0])
	assert.Equal(t, 12.5, *fr.Series["D"][0])
	assert.Nil(t, fr.Series["fom"][0], "missing values are JSON null")
}

func TestWebsocketSnapshotGoesOnlyToNewClient(t *testing.T) {
	srv, mon := newTestServer(t, []string{"D:12.5"})
	waitForSamples(t, mon, 1)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = first.ReadMessage()
	require.NoError(t, err, "first client reads its own greeting")

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = second.ReadMessage()
	require.NoError(t, err, "second client reads its own greeting")

	// The second greeting must not have been fanned out to the first.
	first.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = first.ReadMessage()
	assert.Error(t, err, "first client must not receive the second client's greeting")
}

func TestStopDuringStartup(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	done := make(chan error, 1)
	go func() { done <- srv.Run("127.0.0.1:0") }()
	srv.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestStopBeforeRunPreventsServe(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.Stop()

	done := make(chan error, 1)
	go func() { done <- srv.Run("127.0.0.1:0") }()

	select {
	case err := <-done:
		assert.NoError(t, err, "Run after Stop must refuse to serve")
	case <-time.After(2 * time.Second):
		t.Fatal("Run served despite a prior Stop")
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status struct {
		State string `json:"state"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.NotEmpty(t, status.State)
}
