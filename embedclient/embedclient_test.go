package embedclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	client := New(Options{
		Host:        server.URL,
		Model:       "test-model",
		Timeout:     5 * time.Second,
		MaxRetries:  3,
		RatePerSec:  1000,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		JitterRatio: 0.1,
	}, nil)
	return client, server
}

func TestEmbedSuccess(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2}},
				{"embedding": []float32{0.3, 0.4}},
			},
		})
	})
	defer server.Close()

	vectors, err := client.Embed(t.Context(), []string{"a", "b"}, "")
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	require.Equal(t, []float32{0.1, 0.2}, vectors[0])
}

func TestEmbedPermanentFailureNotRetried(t *testing.T) {
	calls := 0
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	})
	defer server.Close()

	_, err := client.Embed(t.Context(), []string{"a"}, "")
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestEmbedTransientFailureRetriedThenSucceeds(t *testing.T) {
	calls := 0
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.5}}},
		})
	})
	defer server.Close()

	vectors, err := client.Embed(t.Context(), []string{"a"}, "")
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Equal(t, 2, calls)
}

func TestEmbedEmptyInputReturnsNil(t *testing.T) {
	client := New(Options{Host: "http://unused"}, nil)
	vectors, err := client.Embed(t.Context(), nil, "m")
	require.NoError(t, err)
	require.Nil(t, vectors)
}
