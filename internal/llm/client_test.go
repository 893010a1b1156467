package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) Config {
	return Config{
		APIKey:      "local",
		APIURL:      url,
		Model:       "opus-mt-en-vi",
		MaxTokens:   1024,
		Temperature: 0.1,
		Timeout:     30,
	}
}

func answer(w http.ResponseWriter, content, finish string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
	})
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(testConfig(url))
	require.NoError(t, err)
	c.backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(testConfig("http://localhost:8080/v1/"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v1/chat/completions", c.endpoint)
	assert.Equal(t, "opus-mt-en-vi", c.Model())
	assert.EqualValues(t, 3, c.cfg.Attempts)

	_, err = NewClient(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "no url", mutate: func(c *Config) { c.APIURL = " " }, errMsg: "API URL"},
		{name: "no model", mutate: func(c *Config) { c.Model = "" }, errMsg: "model"},
		{name: "tokens", mutate: func(c *Config) { c.MaxTokens = 0 }, errMsg: "max tokens"},
		{name: "temperature", mutate: func(c *Config) { c.Temperature = 3 }, errMsg: "temperature"},
		{name: "timeout", mutate: func(c *Config) { c.Timeout = 0 }, errMsg: "timeout"},
		{name: "key optional", mutate: func(c *Config) { c.APIKey = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig("http://localhost")
			tt.mutate(&c)
			err := c.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestTranslateSendsSystemPromptFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer local", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "opus-mt-en-vi", req.Model)
		assert.Equal(t, 1024, req.MaxTokens)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, "Draw two cards.", req.Messages[1].Content)
		answer(w, " Rút hai lá bài.\n", "stop")
	}))
	defer server.Close()

	got, err := newTestClient(t, server.URL+"/v1").Translate(context.Background(), "Draw two cards.", "Translate to Vietnamese")
	require.NoError(t, err)
	assert.Equal(t, "Rút hai lá bài.", got)
}

func TestTranslateWithoutSystemPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		answer(w, "Xin chào", "stop")
	}))
	defer server.Close()

	got, err := newTestClient(t, server.URL).Translate(context.Background(), "Hello", "")
	require.NoError(t, err)
	assert.Equal(t, "Xin chào", got)
}

func TestTranslateRetriesWhileModelLoads(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			return
		}
		answer(w, "Xin chào", "stop")
	}))
	defer server.Close()

	got, err := newTestClient(t, server.URL).Translate(context.Background(), "Hello", "")
	require.NoError(t, err)
	assert.Equal(t, "Xin chào", got)
	assert.EqualValues(t, 3, calls.Load())
}

func TestTranslateGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Translate(context.Background(), "Hello", "")
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.EqualValues(t, 3, calls.Load())
}

func TestTranslateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "Invalid API key", "type": "authentication_error"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Translate(context.Background(), "Hello", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
	assert.Contains(t, err.Error(), "401")
	assert.EqualValues(t, 1, calls.Load())
}

func TestTranslateRejectsTruncatedOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		answer(w, "Rút hai", "length")
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Translate(context.Background(), "Draw two cards.", "")
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestTranslateEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Translate(context.Background(), "Hello", "")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestStatusErrorTemporary(t *testing.T) {
	assert.True(t, (&StatusError{Code: 503}).Temporary())
	assert.True(t, (&StatusError{Code: 429}).Temporary())
	assert.False(t, (&StatusError{Code: 400}).Temporary())
	assert.False(t, (&StatusError{Code: 500}).Temporary())
}
