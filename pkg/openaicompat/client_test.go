package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestClient_PostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/echo", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test"})
	var out map[string]string
	require.NoError(t, c.PostJSON(context.Background(), "/echo", map[string]string{"msg": "hi"}, &out))
	assert.Equal(t, "hi", out["echo"])
	assert.True(t, c.HasKey())
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	c.sleep = noSleep

	var out struct{ OK bool }
	require.NoError(t, c.PostJSON(context.Background(), "x", struct{}{}, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad model"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	c.sleep = noSleep

	err := c.PostJSON(context.Background(), "x", struct{}{}, &struct{}{})
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 2})
	c.sleep = noSleep

	err := c.PostJSON(context.Background(), "x", struct{}{}, &struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestNew_Defaults(t *testing.T) {
	t.Setenv("TOPICHUB_TEST_KEY", "from-env")

	c := New(Config{APIKeyEnv: "TOPICHUB_TEST_KEY"})
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.True(t, c.HasKey())
	assert.Nil(t, c.limiter)

	c = New(Config{RateLimit: 5})
	assert.NotNil(t, c.limiter)
	assert.False(t, c.HasKey())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, backoff(0, nil))
	assert.Equal(t, time.Second, backoff(1, nil))
	assert.Equal(t, 10*time.Second, backoff(10, nil))

	ra := &retryAfterError{StatusError: &StatusError{StatusCode: 429}, after: 2 * time.Second}
	assert.Equal(t, 2*time.Second, backoff(0, ra))
}
