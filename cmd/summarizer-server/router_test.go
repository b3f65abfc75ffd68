package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MegaGrindStone/go-mcp-streamable"
	"github.com/MegaGrindStone/go-mcp-streamable/internal/config"
)

type echoSummarizer struct{}

func (echoSummarizer) Summarize(_ context.Context, text string) (string, error) {
	return "summary of " + text, nil
}

func newTestApp(t *testing.T, mutate func(*config.Server)) (app, *httptest.Server) {
	t.Helper()

	cfg := config.DefaultServer()
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := newApp(cfg, echoSummarizer{}, prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	go a.mcpServer.Serve()

	srv := httptest.NewServer(a.handler)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.summarizer.Close()
		assert.NoError(t, a.mcpServer.Shutdown(ctx))
		srv.Close()
	})
	return a, srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRouter_Routes(t *testing.T) {
	_, srv := newTestApp(t, nil)

	status, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, body = get(t, srv.URL+"/nowhere")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Not Found\n", body)

	// A GET without a session is rejected by the transport and counted.
	status, _ = get(t, srv.URL+"/mcp")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `mcp_http_rejected_total{reason="`+mcp.RejectNoSession+`"} 1`)
	assert.Contains(t, body, `mcp_http_requests_total{method="GET",status="400"} 1`)
}

func TestRouter_MetricsDisabled(t *testing.T) {
	_, srv := newTestApp(t, func(cfg *config.Server) { cfg.MetricsRoute = "" })

	status, _ := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestApp_InvalidToolPattern(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.Tools = []string{"[summarize"}
	_, err := newApp(cfg, echoSummarizer{}, prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestApp_SummarizeOverHTTP(t *testing.T) {
	a, srv := newTestApp(t, func(cfg *config.Server) { cfg.JSONResponse = true })

	client := mcp.NewClient(mcp.Info{Name: "router-test", Version: "1.0"},
		mcp.NewStreamableHTTPClient(srv.URL+"/mcp", nil, mcp.WithStreamableClientNoStandaloneStream()))
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	defer client.Close()

	assert.Equal(t, []string{client.SessionID()}, a.transport.SessionIDs())

	result, err := client.CallTool(ctx, mcp.CallToolParams{
		Name:      "summarize",
		Arguments: json.RawMessage(`{"text":"a long text"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	assert.Equal(t, "summary of a long text", result.Content[0].Text)
	assert.Len(t, result.ResourceLinks(), 1)

	_, body := get(t, srv.URL+"/metrics")
	assert.True(t, strings.Contains(body, "mcp_sessions_active 1"))
}
