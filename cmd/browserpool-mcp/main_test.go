package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestHandleRenderPage(t *testing.T) {
	var got renderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/render", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"status_code":200,"content":"# Hi","browser_id":"b1",
			"metadata":{"title":"Doc","source_url":"https://example.com"},
			"timing":{"total_ms":30,"acquire_ms":10,"render_ms":20}}`))
	}))
	defer srv.Close()

	res, err := handleRenderPage(srv.URL, "k")(context.Background(), callRequest(map[string]any{
		"url":          "https://example.com",
		"css_selector": "main",
		"block_ads":    true,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	assert.Equal(t, "https://example.com", got.URL)
	assert.Equal(t, "markdown", got.OutputFormat)
	assert.Equal(t, "main", got.CSSSelector)
	assert.True(t, got.BlockAds)

	text := resultText(t, res)
	assert.Contains(t, text, "Title: Doc")
	assert.Contains(t, text, "# Hi")
	assert.Contains(t, text, "Browser b1: waited 10ms")
}

func TestHandleRenderPage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"CIRCUIT_OPEN","message":"browser launches are failing"}}`))
	}))
	defer srv.Close()

	res, err := handleRenderPage(srv.URL, "")(context.Background(), callRequest(map[string]any{"url": "https://example.com"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "[CIRCUIT_OPEN] browser launches are failing", resultText(t, res))
}

func TestHandleRenderPage_MissingURL(t *testing.T) {
	res, err := handleRenderPage("http://127.0.0.1:0", "")(context.Background(), callRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandlePoolStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health/browser-resources", r.URL.Path)
		_, _ = w.Write([]byte(`{"available_count":2,"total_count":3,"circuit_breaker":{"state":"closed"}}`))
	}))
	defer srv.Close()

	res, err := handlePoolStats(srv.URL)(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), `"available_count": 2`)
}
