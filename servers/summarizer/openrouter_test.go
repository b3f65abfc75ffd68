package summarizer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MegaGrindStone/go-mcp-streamable/servers/summarizer"
)

func TestOpenRouter_Summarize(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"m","choices":[` +
			`{"index":0,"message":{"role":"assistant","content":"A short summary."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	or := summarizer.NewOpenRouter("secret", srv.URL, "")
	summary, err := or.Summarize(context.Background(), "Long text.")
	require.NoError(t, err)

	assert.Equal(t, "A short summary.", summary)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, summarizer.DefaultOpenRouterModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "You are a helpful assistant that summarizes text.", got.Messages[0].Content)
	assert.Equal(t, "Summarize the following text, return only the summary: <text>Long text.</text>",
		got.Messages[1].Content)
}

func TestOpenRouter_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "api error", status: http.StatusUnauthorized, body: `{"error":{"message":"bad key","type":"auth"}}`},
		{name: "no choices", status: http.StatusOK, body: `{"id":"c1","object":"chat.completion","choices":[]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := summarizer.NewOpenRouter("k", srv.URL, "m").Summarize(context.Background(), "x")
			assert.Error(t, err)
		})
	}
}
