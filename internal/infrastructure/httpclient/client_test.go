package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := New(WithRetryDelay(time.Millisecond))
	var result struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, client.GetJSON(context.Background(), server.URL, &result))
	assert.True(t, result.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	err := New(WithRetryDelay(time.Millisecond)).GetJSON(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := New(WithRetryDelay(time.Millisecond), WithMaxRetries(2)).GetJSON(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusBadGateway))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientPostsJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"echo":"pong"}`))
	}))
	defer server.Close()

	var result map[string]string
	require.NoError(t, New().PostJSON(context.Background(), server.URL, map[string]string{"q": "ping"}, &result))
	assert.Equal(t, "pong", result["echo"])
}
