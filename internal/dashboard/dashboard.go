// Package dashboard is the in-process consumer of the ingestion
// pipeline: a small HTTP server that pushes throttled snapshot frames to
// browser clients over a websocket and exposes export, clear and status
// endpoints. Core failures reach clients as status frames; nothing from
// the pipeline can panic the HTTP layer.
package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cir-monitor/internal/export"
	"cir-monitor/internal/monitor"
	"cir-monitor/internal/reader"
	"cir-monitor/internal/telemetry"
)

//go:embed index.html
var staticFS embed.FS

// frame is one websocket message. Type is "samples" or "status".
type frame struct {
	Type string `json:"type"`

	// samples frames
	Indices []uint64              `json:"indices,omitempty"`
	Series  map[string][]*float64 `json:"series,omitempty"`
	Stats   *monitor.Stats        `json:"stats,omitempty"`

	// status frames
	State    string `json:"state,omitempty"`
	Message  string `json:"message,omitempty"`
	Terminal bool   `json:"terminal,omitempty"`
}

// fieldMeta describes one telemetry field to the client.
type fieldMeta struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	ColorIndex int    `json:"colorIndex"`
	Enabled    bool   `json:"enabled"`
}

// pageMeta describes one dashboard page group.
type pageMeta struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// Server serves the dashboard for one monitoring session.
type Server struct {
	mon      *monitor.Monitor
	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool

	serverMu   sync.Mutex
	httpServer *http.Server
	stopOnce   sync.Once
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// New creates a dashboard server over the given monitor session.
func New(mon *monitor.Monitor) *Server {
	return &Server{
		mon:      mon,
		clients:  make(map[*websocket.Conn]bool),
		stopChan: make(chan struct{}),
	}
}

// Handler returns the dashboard's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/meta", s.handleMeta)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/export", s.handleExport)
	mux.HandleFunc("/api/clear", s.handleClear)
	mux.HandleFunc("/api/ports", s.handlePorts)
	return mux
}

// Run serves the dashboard until Stop is called. It also starts the
// broadcast goroutine that turns monitor updates into websocket frames.
func (s *Server) Run(addr string) error {
	s.serverMu.Lock()
	select {
	case <-s.stopChan:
		// Stop already fired; never bring the server up after it.
		s.serverMu.Unlock()
		return nil
	default:
	}
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	s.httpServer = srv
	s.serverMu.Unlock()

	s.wg.Add(1)
	go s.broadcastLoop()

	log.Printf("dashboard: listening on http://%s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server failed: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down and joins the broadcast goroutine.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.serverMu.Lock()
		srv := s.httpServer
		s.serverMu.Unlock()
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}
		s.closeClients()
		s.wg.Wait()
	})
}

// broadcastLoop forwards monitor updates and statuses to all clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		case <-s.mon.Updates():
			s.broadcast(s.snapshotFrame())
		case st := <-s.mon.Statuses():
			s.broadcast(frame{
				Type:     "status",
				State:    st.State.String(),
				Message:  st.Message,
				Terminal: st.Terminal,
			})
		}
	}
}

// snapshotFrame builds a samples frame from the current buffer state.
// Missing values become JSON nulls so the chart can gap.
func (s *Server) snapshotFrame() frame {
	fields := telemetry.Fields()
	series := s.mon.Store().Snapshot(fields)
	stats := s.mon.Stats()

	fr := frame{
		Type:   "samples",
		Series: make(map[string][]*float64, len(series)),
		Stats:  &stats,
	}
	for i, sr := range series {
		if i == 0 {
			fr.Indices = sr.Indices
		}
		vals := make([]*float64, len(sr.Values))
		for j := range sr.Values {
			if !telemetry.IsMissing(sr.Values[j]) {
				v := sr.Values[j]
				vals[j] = &v
			}
		}
		fr.Series[string(sr.Field)] = vals
	}
	return fr
}

// sendFrame writes one frame to a single client.
func (s *Server) sendFrame(conn *websocket.Conn, fr frame) {
	payload, err := json.Marshal(fr)
	if err != nil {
		log.Printf("dashboard: failed to marshal frame: %v", err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("dashboard: snapshot write failed: %v", err)
	}
}

func (s *Server) broadcast(fr frame) {
	payload, err := json.Marshal(fr)
	if err != nil {
		log.Printf("dashboard: failed to marshal frame: %v", err)
		return
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for client := range s.clients {
		client.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			client.Close()
			delete(s.clients, client)
		}
	}
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
}

// handleWS upgrades the connection and registers the client. The first
// frame a new client receives is a full snapshot, so a reconnecting
// browser repaints without waiting for fresh data.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("dashboard: websocket upgrade failed: %v", err)
		return
	}

	// Greet before registering, so the snapshot write cannot interleave
	// with a concurrent broadcast to the same connection.
	s.sendFrame(conn, s.snapshotFrame())

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	// Reader side only detects close; clients never send data frames.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.clientsMu.Lock()
				delete(s.clients, conn)
				s.clientsMu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	enabled := make(map[telemetry.Field]bool)
	for _, f := range telemetry.DefaultEnabled() {
		enabled[f] = true
	}

	var fields []fieldMeta
	for _, f := range telemetry.Fields() {
		fields = append(fields, fieldMeta{
			Name:       string(f),
			Label:      f.Label(),
			ColorIndex: f.ColorIndex(),
			Enabled:    enabled[f],
		})
	}

	var pages []pageMeta
	for _, pg := range telemetry.PageGroups() {
		names := make([]string, len(pg.Fields))
		for i, f := range pg.Fields {
			names[i] = string(f)
		}
		pages = append(pages, pageMeta{Name: pg.Name, Fields: names})
	}

	writeJSON(w, map[string]interface{}{
		"fields":    fields,
		"pages":     pages,
		"autoScale": s.mon.Config().Monitor.AutoScale,
		"capacity":  s.mon.Store().Capacity(),
		"port":      s.mon.Config().Serial.Port,
		"baudRate":  s.mon.Config().Serial.BaudRate,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, reason := s.mon.LinkState()
	writeJSON(w, map[string]interface{}{
		"state":   state.String(),
		"reason":  reason,
		"stats":   s.mon.Stats(),
		"samples": s.mon.Store().Len(),
	})
}

// handleExport streams the current buffer as a file download. A failed
// export aborts the response; the in-memory state is unaffected.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	fields := telemetry.Fields()
	if sel := r.URL.Query()["field"]; len(sel) > 0 {
		var subset []telemetry.Field
		for _, name := range sel {
			if telemetry.IsKnown(name) {
				subset = append(subset, telemetry.Field(name))
			}
		}
		fields = subset
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.DefaultFilename("csv")))
		if err := s.mon.ExportCSV(w, fields); err != nil {
			log.Printf("dashboard: CSV export failed: %v", err)
		}
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.DefaultFilename("xlsx")))
		if err := s.mon.ExportXLSX(w, fields); err != nil {
			log.Printf("dashboard: XLSX export failed: %v", err)
		}
	default:
		http.Error(w, fmt.Sprintf("unknown export format: %s", format), http.StatusBadRequest)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mon.Clear()
	writeJSON(w, map[string]string{"status": "cleared"})
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := reader.ListPorts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"ports": ports})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("dashboard: failed to encode response: %v", err)
	}
}
