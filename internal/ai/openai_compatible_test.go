package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAICompatibleClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAICompatibleClient(ClientConfig{
		BaseURL:        srv.URL + "/v1/",
		APIKey:         "sk-test",
		Model:          "chat-model",
		EmbeddingModel: "embed-model",
	})
}

func TestEmbedBatch_ReordersByIndex(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "embed-model", body.Model)
		assert.Equal(t, []string{"a", "b"}, body.Input)

		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[2,2]},{"index":0,"embedding":[1,1]}]}`))
	})

	got, err := client.EmbedBatch(context.Background(), []string{" a ", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 2}}, got)
}

func TestEmbedBatch_Errors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	})

	_, err := client.EmbedBatch(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "429")

	_, err = client.EmbedBatch(context.Background(), []string{"a", "  "})
	assert.ErrorContains(t, err, "empty")
}

func TestEmbed_CountMismatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	_, err := client.Embed(context.Background(), "a")
	assert.ErrorContains(t, err, "mismatch")
}

func sse(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, l := range lines {
		fmt.Fprintf(w, "data: %s\n\n", l)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func TestStreamComplete_ForwardsDeltasInOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])
		assert.Equal(t, float64(0), body["temperature"])
		sse(w,
			`{"choices":[{"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo "}}]}`,
			`{"choices":[{"delta":{"content":"world"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		)
	})

	var chunks []string
	full, err := client.StreamComplete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo ", "world"}, chunks)
	assert.Equal(t, "Hello world", full)
}

func TestStreamComplete_TruncatedStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sse(w, `{"choices":[{"delta":{"content":"Hel"}}]}`)
	})

	_, err := client.StreamComplete(context.Background(), nil, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrIncompleteStream)
}

func TestStreamComplete_ErrorPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sse(w, `{"error":{"message":"overloaded"}}`)
	})

	_, err := client.StreamComplete(context.Background(), nil, func(string) error { return nil })
	assert.ErrorContains(t, err, "overloaded")
}

func TestStreamComplete_CallbackErrorStops(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sse(w, `{"choices":[{"delta":{"content":"a"}}]}`, `{"choices":[{"delta":{"content":"b"}}]}`, `[DONE]`)
	})

	stop := fmt.Errorf("stop")
	calls := 0
	_, err := client.StreamComplete(context.Background(), nil, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
