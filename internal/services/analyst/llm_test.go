package analyst

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFastClient(url string) *OpenAICompatibleClient {
	client := NewOpenAICompatibleClient(url, "test-key", "test-model")
	client.retryDelay = time.Millisecond
	return client
}

func TestChat_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"trades\":[],\"thesis\":\"hold\"}"}}]}`))
	}))
	defer server.Close()

	response, err := newFastClient(server.URL).Chat(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Contains(t, response, "hold")
}

func TestChat_EmptyAPIKey(t *testing.T) {
	client := NewOpenAICompatibleClient("http://unused", "", "model")
	_, err := client.Chat(context.Background(), "system", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is empty")
}

func TestChat_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	response, err := newFastClient(server.URL).Chat(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "ok", response)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestChat_ContextTooLargeNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"This model's maximum context length is 128000 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`))
	}))
	defer server.Close()

	_, err := newFastClient(server.URL).Chat(context.Background(), "system", "user")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrContextTooLarge))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "oversized context must fail fast")
}

func TestChat_InvalidRequestNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"unknown field foo","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	_, err := newFastClient(server.URL).Chat(context.Background(), "system", "user")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestChat_ErrorInOKEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"maximum context length exceeded","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	_, err := newFastClient(server.URL).Chat(context.Background(), "system", "user")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrContextTooLarge))
}

func TestChat_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := newFastClient(server.URL).Chat(context.Background(), "system", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
