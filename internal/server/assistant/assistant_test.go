package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Backends(t *testing.T) {
	c, err := New(Config{Backend: "ollama", Model: "llama3.2:1b"})
	require.NoError(t, err)
	assert.IsType(t, &Ollama{}, c)

	c, err = New(Config{Backend: "OpenAI", Model: "gpt-4o-mini", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, c)

	c, err = New(Config{Backend: "none"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = New(Config{Backend: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = New(Config{Backend: "ollama"})
	assert.Error(t, err, "model is required")
}

func TestOllama_Complete(t *testing.T) {
	var got ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: " Hello there \n", Done: true})
	}))
	defer srv.Close()

	o, err := NewOllama(srv.URL+"/", "llama3.2:1b")
	require.NoError(t, err)

	reply, err := o.Complete(context.Background(), "alice: hi\nBot:")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", reply)
	assert.Equal(t, "llama3.2:1b", got.Model)
	assert.Equal(t, "alice: hi\nBot:", got.Prompt)
	assert.False(t, got.Stream)
}

func TestOllama_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	o, err := NewOllama(srv.URL, "missing")
	require.NoError(t, err)
	_, err = o.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.ErrorIs(t, err, common.ErrCollaboratorFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Complete(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenAI_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "Hi alice!"}
			}]
		}`))
	}))
	defer srv.Close()

	o, err := NewOpenAI(srv.URL+"/v1", "gpt-4o-mini", "test-key")
	require.NoError(t, err)

	reply, err := o.Complete(context.Background(), "alice: hi\nBot:")
	require.NoError(t, err)
	assert.Equal(t, "Hi alice!", reply)
	assert.Equal(t, "gpt-4o-mini", body["model"])
}

func TestOpenAI_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	o, err := NewOpenAI(srv.URL, "m", "k")
	require.NoError(t, err)
	_, err = o.Complete(context.Background(), "x")
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	var c Completer = Func(func(_ context.Context, p string) (string, error) { return "echo " + p, nil })
	out, err := c.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "echo x", out)
}
