// internal/executor/client_test.go
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/config"
	"agenthub/internal/models"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.ExecutorConfig{
		BaseURL:          baseURL,
		APIKey:           "test-key",
		RequestTimeout:   5,
		BreakerThreshold: 3,
		BreakerCooldown:  60,
	}, zerolog.Nop())
}

func TestClientStartExecution(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"execution_id": "ext-42"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	externalID, err := client.StartExecution(context.Background(), "agent-ext-1", map[string]interface{}{"x": 1})

	require.NoError(t, err)
	assert.Equal(t, "ext-42", externalID)
	assert.Equal(t, "/agents/agent-ext-1/execute", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, map[string]interface{}{"input_data": map[string]interface{}{"x": float64(1)}}, gotBody)
}

func TestClientGetExecutionStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/executions/ext-42", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "completed",
			"output_data": map[string]interface{}{"y": 2},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	result, err := client.GetExecutionStatus(context.Background(), "ext-42")

	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, map[string]interface{}{"y": float64(2)}, result.OutputData)
}

func TestClientRejectionCarriesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad config\n"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.StartExecution(context.Background(), "agent-ext-1", nil)

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Equal(t, "bad config", rejected.Reason)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestClientServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.GetExecutionStatus(context.Background(), "ext-42")

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientNetworkErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	client := newTestClient(srv.URL)
	_, err := client.GetExecutionStatus(context.Background(), "ext-42")

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	for i := 0; i < 3; i++ {
		_, err := client.GetExecutionStatus(context.Background(), "ext-42")
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	require.Equal(t, int32(3), requests.Load())

	// The breaker is open now; the executor is no longer hit.
	_, err := client.GetExecutionStatus(context.Background(), "ext-42")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), requests.Load())
}

func TestClientRejectionsDoNotTripBreaker(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("schema mismatch"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	for i := 0; i < 5; i++ {
		var rejected *RejectedError
		_, err := client.StartExecution(context.Background(), "agent-ext-1", nil)
		require.ErrorAs(t, err, &rejected)
	}

	// Every call reached the server; none were short-circuited.
	assert.Equal(t, int32(5), requests.Load())
}

func TestClientRegisterAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/agents", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"agent_id": "agent-ext-9"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	externalID, err := client.RegisterAgent(context.Background(), "summarizer", map[string]interface{}{"model": "large"})

	require.NoError(t, err)
	assert.Equal(t, "agent-ext-9", externalID)
}
