package gelato

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSendRelayTransactionWire(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/relays/137", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]string{"taskId": "task-1"})
	}))
	defer server.Close()

	client := NewClient(server.URL, zaptest.NewLogger(t))
	response, err := client.SendRelayTransaction(context.Background(), 137, "0xdest", "0xdata", "0xtoken", "99")
	require.NoError(t, err)
	assert.Equal(t, "task-1", response.TaskID)

	// The body uses camelCase field names on the wire.
	assert.Equal(t, "0xdest", captured["dest"])
	assert.Equal(t, "0xdata", captured["data"])
	assert.Equal(t, "0xtoken", captured["token"])
	assert.Equal(t, "99", captured["relayerFee"])
}

func TestGetTaskStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tasks/task-9/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]map[string]string{"task": {"taskState": "ExecReverted"}})
	}))
	defer server.Close()

	client := NewClient(server.URL, zaptest.NewLogger(t))
	state, err := client.GetTaskStatus(context.Background(), "task-9")
	require.NoError(t, err)
	assert.Equal(t, ExecReverted, state)
	assert.True(t, state.IsTerminal())
}

func TestGetEstimatedFeeQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oracles/1/estimate", r.URL.Path)
		query := r.URL.Query()
		assert.Equal(t, "0xtoken", query.Get("paymentToken"))
		assert.Equal(t, "100000", query.Get("gasLimit"))
		assert.Equal(t, "true", query.Get("isHighPriority"))
		_ = json.NewEncoder(w).Encode(map[string]string{"estimatedFee": "1234"})
	}))
	defer server.Close()

	client := NewClient(server.URL, zaptest.NewLogger(t))
	fee, err := client.GetEstimatedFee(context.Background(), 1, "0xtoken", 100000, true)
	require.NoError(t, err)
	assert.Equal(t, "1234", fee)
}

func TestSingleChainClientAutoFee(t *testing.T) {
	var relayedFee string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oracles/5/estimate":
			_ = json.NewEncoder(w).Encode(map[string]string{"estimatedFee": "777"})
		case "/relays/5":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			relayedFee = body["relayerFee"]
			_ = json.NewEncoder(w).Encode(map[string]string{"taskId": "task-5"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	single := NewSingleChainClient(NewClient(server.URL, zaptest.NewLogger(t)), 5, "0xtoken")
	response, err := single.SendRelayTransaction(context.Background(), "0xdest", "0xdata")
	require.NoError(t, err)
	assert.Equal(t, "task-5", response.TaskID)
	assert.Equal(t, "777", relayedFee)
}

func TestNonSuccessStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, zaptest.NewLogger(t))
	_, err := client.GetTaskStatus(context.Background(), "task-1")
	require.Error(t, err)
}

func TestTerminalStates(t *testing.T) {
	terminal := []TaskState{ExecSuccess, ExecReverted, Blacklisted, Cancelled, NotFound}
	for _, state := range terminal {
		assert.True(t, state.IsTerminal(), string(state))
	}
	for _, state := range []TaskState{CheckPending, ExecPending} {
		assert.False(t, state.IsTerminal(), string(state))
	}
}
