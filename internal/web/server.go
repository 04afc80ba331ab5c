// Package web exposes a small HTTP surface for observing the agent: a
// cycle-history page and an SSE stream fed from the cycle WAL.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"helmsman/internal/domain"
)

const cyclePollInterval = 2 * time.Second

type cycleReader interface {
	EventsAfter(index uint64) ([]domain.CycleEventRecord, error)
}

// Server exposes HTTP endpoints serving the HTML UI and an SSE stream.
type Server struct {
	Addr   string
	Store  cycleReader
	Logger *zap.Logger
}

// NewServer creates a new web server instance.
func NewServer(addr string, store cycleReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Addr: addr, Store: store, Logger: logger}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/cycles", s.handleCycles)
	mux.HandleFunc("/cycles/stream", s.handleCycleStream)

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

// handleCycles returns the full recorded cycle history as JSON.
func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "cycle store not available", http.StatusServiceUnavailable)
		return
	}

	records, err := s.Store.EventsAfter(0)
	if err != nil {
		s.Logger.Error("cycle history load failed", zap.Error(err))
		http.Error(w, "failed to load cycle history", http.StatusInternalServerError)
		return
	}

	events := make([]domain.CycleEvent, 0, len(records))
	for _, record := range records {
		events = append(events, record.Event)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.Logger.Warn("cycle history encode failed", zap.Error(err))
	}
}

func (s *Server) handleCycleStream(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "cycle store not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat every 30s so proxies keep connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(cyclePollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendCycles := func() error {
		records, err := s.Store.EventsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Event)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: cycle\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	// headers (and possibly partial events) are already out, so a status
	// rewrite is off the table: log and drop the stream
	if err := sendCycles(); err != nil {
		s.Logger.Error("cycle stream initial load failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendCycles(); err != nil {
				s.Logger.Warn("cycle stream poll failed", zap.Error(err))
			}
		}
	}
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>helmsman</title>
<style>
body { font-family: monospace; background: #111; color: #ddd; margin: 2em; }
h1 { font-size: 1.2em; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 0.3em 0.8em; border-bottom: 1px solid #333; }
.completed { color: #8c8; }
.failed { color: #c88; }
</style>
</head>
<body>
<h1>helmsman &mdash; decision cycles</h1>
<table>
<thead><tr><th>finished</th><th>state</th><th>approved</th><th>refinements</th><th>reason</th></tr></thead>
<tbody id="cycles"></tbody>
</table>
<script>
const tbody = document.getElementById("cycles");
const source = new EventSource("/cycles/stream");
source.addEventListener("cycle", (e) => {
  const c = JSON.parse(e.data);
  const row = document.createElement("tr");
  row.innerHTML =
    "<td>" + (c.finished_at || "") + "</td>" +
    "<td class='" + c.state + "'>" + c.state + "</td>" +
    "<td>" + c.approved + "</td>" +
    "<td>" + (c.refinements || 0) + "</td>" +
    "<td>" + (c.approval_reason || c.error || "") + "</td>";
  tbody.prepend(row);
});
</script>
</body>
</html>
`
