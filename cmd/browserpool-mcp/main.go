package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// renderRequest mirrors the browserpool render request model.
type renderRequest struct {
	URL          string `json:"url"`
	OutputFormat string `json:"output_format,omitempty"`
	CSSSelector  string `json:"css_selector,omitempty"`
	Stealth      bool   `json:"stealth,omitempty"`
	BlockAds     bool   `json:"block_ads,omitempty"`
	Timeout      int    `json:"timeout,omitempty"`
}

// apiError mirrors the error detail returned by the API.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// renderResponse mirrors the browserpool render response model.
type renderResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	FinalURL   string `json:"final_url"`
	Content    string `json:"content"`
	BrowserID  string `json:"browser_id"`
	Metadata   *struct {
		Title     string `json:"title"`
		SourceURL string `json:"source_url"`
	} `json:"metadata"`
	Timing *struct {
		TotalMs   int64 `json:"total_ms"`
		AcquireMs int64 `json:"acquire_ms"`
		RenderMs  int64 `json:"render_ms"`
	} `json:"timing"`
	Error *apiError `json:"error"`
}

func main() {
	apiURL := os.Getenv("BROWSERPOOL_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("BROWSERPOOL_API_KEY")

	s := server.NewMCPServer(
		"browserpool",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	renderPageTool := mcp.NewTool("render_page",
		mcp.WithDescription("Render a web page in a pooled headless browser and return its content as html, markdown or plain text. Handles JavaScript-heavy pages."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to render"),
		),
		mcp.WithString("output_format",
			mcp.Description("Output format: 'markdown' (default), 'text' or 'html'"),
			mcp.Enum("markdown", "text", "html"),
		),
		mcp.WithString("css_selector",
			mcp.Description("Only return the elements matching this CSS selector"),
		),
		mcp.WithBoolean("stealth",
			mcp.Description("Enable anti-bot-detection evasions"),
		),
		mcp.WithBoolean("block_ads",
			mcp.Description("Block requests to well-known ad and tracking domains"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Overall timeout in seconds, including the wait for a free browser (default: 30, max: 120)"),
		),
	)
	s.AddTool(renderPageTool, handleRenderPage(apiURL, apiKey))

	poolStatsTool := mcp.NewTool("pool_stats",
		mcp.WithDescription("Report the browser pool state: available and leased browsers, circuit breaker state and resource usage."),
	)
	s.AddTool(poolStatsTool, handlePoolStats(apiURL))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiDo sends a request to the browserpool API and returns the response body.
func apiDo(ctx context.Context, client *http.Client, method, url, apiKey string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleRenderPage(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 150 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		payload := renderRequest{
			URL:          url,
			OutputFormat: request.GetString("output_format", "markdown"),
			CSSSelector:  request.GetString("css_selector", ""),
			Stealth:      request.GetBool("stealth", false),
			BlockAds:     request.GetBool("block_ads", false),
			Timeout:      request.GetInt("timeout", 0),
		}

		respBody, err := apiDo(ctx, client, http.MethodPost, apiURL+"/api/v1/render", apiKey, payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("render request failed: %v", err)), nil
		}

		var renderResp renderResponse
		if err := json.Unmarshal(respBody, &renderResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !renderResp.Success {
			errMsg := "render failed"
			if renderResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", renderResp.Error.Code, renderResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		var sb strings.Builder
		if m := renderResp.Metadata; m != nil {
			fmt.Fprintf(&sb, "Title: %s\nSource: %s\n", m.Title, m.SourceURL)
		}
		fmt.Fprintf(&sb, "Status: %d\n\n", renderResp.StatusCode)
		sb.WriteString(renderResp.Content)

		if t := renderResp.Timing; t != nil {
			fmt.Fprintf(&sb, "\n\n---\nBrowser %s: waited %dms, rendered in %dms (%dms total)",
				renderResp.BrowserID, t.AcquireMs, t.RenderMs, t.TotalMs)
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handlePoolStats(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiDo(ctx, client, http.MethodGet, apiURL+"/api/v1/health/browser-resources", "", nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats request failed: %v", err)), nil
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, respBody, "", "  "); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse stats: %v", err)), nil
		}

		var errBody struct {
			Error *apiError `json:"error"`
		}
		if json.Unmarshal(respBody, &errBody) == nil && errBody.Error != nil {
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", errBody.Error.Code, errBody.Error.Message)), nil
		}

		return mcp.NewToolResultText(pretty.String()), nil
	}
}
