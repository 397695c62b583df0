package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryfx/internal/core"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func completionBody(model, content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1730366400,
		"model":   model,
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return b
}

func TestInvokeReturnsContentFromPrimaryModel(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(completionBody("gemini-1.5-flash", `{"recommendation":"AL"}`))
	})

	client, err := New([]ModelConfig{{Name: "gemini-1.5-flash", BaseURL: server.URL, APIKey: "k"}})
	require.NoError(t, err)

	resp, err := client.Invoke(context.Background(), "analyze BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, `{"recommendation":"AL"}`, resp.Content)
	assert.Equal(t, "gemini-1.5-flash", resp.Model)
}

func TestInvokeRotatesOnQuotaExhaustion(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}

	primary := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls["primary"]++
		mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	})
	fallback := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls["fallback"]++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write(completionBody("gemini-2.5-flash", "ok"))
	})

	client, err := New([]ModelConfig{
		{Name: "gemini-1.5-flash", BaseURL: primary.URL, APIKey: "k"},
		{Name: "gemini-2.5-flash", BaseURL: fallback.URL, APIKey: "k"},
	})
	require.NoError(t, err)

	resp, err := client.Invoke(context.Background(), "analyze BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 1, calls["primary"])
	assert.Equal(t, 1, calls["fallback"])
}

func TestInvokeFailsOnceAfterAllModelsExhausted(t *testing.T) {
	exhausted := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	})

	client, err := New([]ModelConfig{
		{Name: "model-a", BaseURL: exhausted.URL, APIKey: "k"},
		{Name: "model-b", BaseURL: exhausted.URL, APIKey: "k"},
	})
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), "analyze BTC/USDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAllModelsExhausted)
}

func TestInvokePropagatesNonQuotaErrorImmediately(t *testing.T) {
	calls := 0
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"internal error"}}`))
	})

	client, err := New([]ModelConfig{
		{Name: "model-a", BaseURL: server.URL, APIKey: "k"},
		{Name: "model-b", BaseURL: server.URL, APIKey: "k"},
	})
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), "analyze BTC/USDT")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestReconfigureResetsActiveIndex(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	client, err := New([]ModelConfig{
		{Name: "model-a", BaseURL: server.URL, APIKey: "k"},
		{Name: "model-b", BaseURL: server.URL, APIKey: "k"},
	})
	require.NoError(t, err)
	client.activeIndex.Store(1)

	require.NoError(t, client.Reconfigure([]ModelConfig{{Name: "model-c", BaseURL: server.URL, APIKey: "k"}}))
	assert.Equal(t, int64(0), client.activeIndex.Load())
}

func TestDedupModelsPreservesOrder(t *testing.T) {
	in := []ModelConfig{{Name: "a"}, {Name: "b"}, {Name: "a"}, {Name: "c"}}
	out := dedupModels(in)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{out[0].Name, out[1].Name, out[2].Name})
}

func TestNewRejectsEmptyModelList(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
