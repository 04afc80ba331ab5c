package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"helmsman/internal/domain"
)

type memoryCycleStore struct {
	mu      sync.Mutex
	records []domain.CycleEventRecord
	err     error
}

func (m *memoryCycleStore) add(event domain.CycleEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, domain.CycleEventRecord{
		Index: uint64(len(m.records) + 1),
		Event: event,
	})
}

func (m *memoryCycleStore) EventsAfter(index uint64) ([]domain.CycleEventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.CycleEventRecord
	for _, record := range m.records {
		if record.Index > index {
			out = append(out, record)
		}
	}
	return out, nil
}

func TestHandleCycles(t *testing.T) {
	store := &memoryCycleStore{}
	store.add(domain.CycleEvent{ID: "cycle-1", State: "completed", Approved: true})
	store.add(domain.CycleEvent{ID: "cycle-2", State: "failed", Error: "stage plan: model down"})

	server := NewServer(":0", store, zap.NewNop())
	rec := httptest.NewRecorder()
	server.handleCycles(rec, httptest.NewRequest(http.MethodGet, "/cycles", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var events []domain.CycleEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "cycle-1", events[0].ID)
	assert.Equal(t, "failed", events[1].State)
}

func TestHandleCycles_StoreFailure(t *testing.T) {
	store := &memoryCycleStore{err: fmt.Errorf("wal corrupted")}
	server := NewServer(":0", store, zap.NewNop())

	rec := httptest.NewRecorder()
	server.handleCycles(rec, httptest.NewRequest(http.MethodGet, "/cycles", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleCycles_NoStore(t *testing.T) {
	server := NewServer(":0", nil, zap.NewNop())

	rec := httptest.NewRecorder()
	server.handleCycles(rec, httptest.NewRequest(http.MethodGet, "/cycles", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleIndex(t *testing.T) {
	server := NewServer(":0", &memoryCycleStore{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.handleIndex(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "decision cycles")

	rec = httptest.NewRecorder()
	server.handleIndex(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCycleStream(t *testing.T) {
	store := &memoryCycleStore{}
	store.add(domain.CycleEvent{ID: "cycle-1", State: "completed", Approved: true})

	server := NewServer(":0", store, zap.NewNop())
	httpServer := httptest.NewServer(http.HandlerFunc(server.handleCycleStream))
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}

	assert.Equal(t, "cycle", event)
	var parsed domain.CycleEvent
	require.NoError(t, json.Unmarshal([]byte(data), &parsed))
	assert.Equal(t, "cycle-1", parsed.ID)
}

func TestHandleCycleStream_InitialLoadFailure(t *testing.T) {
	store := &memoryCycleStore{err: fmt.Errorf("wal corrupted")}

	server := NewServer(":0", store, zap.NewNop())
	httpServer := httptest.NewServer(http.HandlerFunc(server.handleCycleStream))
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// the stream headers are already out, so the handler has to close the
	// stream cleanly instead of smuggling an error page into it
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, string(body))
}
