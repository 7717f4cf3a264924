package browser

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/browserpool/models"
)

// Result is the raw outcome of a render.
type Result struct {
	HTML       string
	Title      string
	StatusCode int
	FinalURL   string
}

// Render loads req.URL in a fresh tab and returns the rendered DOM.
//
// Lifecycle:
//
//  1. Timeout guard      – hard deadline on the whole render
//  2. Open tab           – tracked so Close can reach it
//  3. Stealth injection  – before navigation
//  4. Extra headers      – caller headers plus a search Referer
//  5. Hijack mount       – block configured resource types and trackers
//  6. Navigate           – bounded by the navigation timeout
//  7. Wait               – DOM stable
//  8. Extract            – HTML, title, final URL, status code
func (b *Browser) Render(ctx context.Context, req *models.RenderRequest) (*Result, error) {
	// ── 1. Timeout guard ──────────────────────────────────────────────
	ctx, cancel := context.WithTimeout(ctx, b.renderTimeout(req.Timeout))
	defer cancel()

	// ── 2. Open tab ───────────────────────────────────────────────────
	page, err := b.openPage()
	if err != nil {
		if errors.Is(err, ErrNotInitialized) {
			return nil, models.NewPoolError(models.ErrCodeInternal, "browser is not running", err)
		}
		return nil, models.NewPoolError(models.ErrCodeNavigation, "failed to open tab", err)
	}
	b.activePages.Add(1)
	defer func() {
		b.activePages.Add(-1)
		b.closePage(page)
	}()

	// ── 3. Stealth injection ──────────────────────────────────────────
	if req.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("browser: stealth injection failed, proceeding without stealth",
				"id", b.id,
				"error", evalErr,
			)
		}
	}

	// ── 4. Extra headers ──────────────────────────────────────────────
	if headers := extraHeaders(req.URL, req.Headers); len(headers) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(headers)}).Call(page); err != nil {
			slog.Debug("browser: failed to set extra headers", "id", b.id, "error", err)
		}
	}

	// ── 5. Request filtering ──────────────────────────────────────────
	stop := intercept(page, requestFilter{types: b.blockedTypes, blockAds: req.BlockAds}, &b.blockedRequests)
	defer stop()

	p := page.Context(ctx)

	// ── 6. Navigate ───────────────────────────────────────────────────
	navCtx, navCancel := context.WithTimeout(ctx, b.navigationTimeout())
	navErr := page.Context(navCtx).Navigate(req.URL)
	navCancel()
	if navErr != nil {
		return nil, categorizeError(navErr, "navigation to target URL failed")
	}

	// ── 7. Wait ───────────────────────────────────────────────────────
	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		if ctx.Err() != nil {
			return nil, categorizeError(ctx.Err(), "page did not settle before the deadline")
		}
		slog.Debug("browser: WaitDOMStable did not converge, proceeding with current DOM",
			"error", stableErr,
		)
	}

	// ── 8. Extract ────────────────────────────────────────────────────
	html, htmlErr := p.HTML()
	if htmlErr != nil {
		return nil, categorizeError(htmlErr, "failed to extract page HTML")
	}

	res := &Result{
		HTML:       html,
		Title:      evalString(p, `() => document.title`),
		FinalURL:   evalString(p, `() => window.location.href`),
		StatusCode: navigationStatus(p),
	}
	if res.FinalURL == "" {
		res.FinalURL = req.URL
	}
	return res, nil
}

// renderTimeout clamps the requested timeout in seconds to the configured
// bounds. Zero selects the default.
func (b *Browser) renderTimeout(seconds int) time.Duration {
	timeout := time.Duration(seconds) * time.Second
	if timeout <= 0 {
		timeout = b.renderCfg.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if b.renderCfg.MaxTimeout > 0 && timeout > b.renderCfg.MaxTimeout {
		timeout = b.renderCfg.MaxTimeout
	}
	return timeout
}

func (b *Browser) navigationTimeout() time.Duration {
	if b.renderCfg.NavigationTimeout > 0 {
		return b.renderCfg.NavigationTimeout
	}
	return 15 * time.Second
}

// navigationStatus reads the HTTP status of the main document from the
// Navigation Timing API, or 0 when unavailable.
func navigationStatus(p *rod.Page) int {
	res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

func evalString(p *rod.Page, js string) string {
	res, err := p.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// extraHeaders merges caller headers over a search-engine Referer for the
// target host.
func extraHeaders(target string, headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	if _, ok := headers["Referer"]; !ok {
		if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
			out["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
		}
	}
	for k, v := range headers {
		out[k] = v
	}
	return out
}

// toHeadersMap converts a plain string map to proto.NetworkHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

func categorizeError(err error, msg string) *models.PoolError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewPoolError(models.ErrCodeRenderTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewPoolError(models.ErrCodeRenderTimeout, "render canceled", err)
	default:
		return models.NewPoolError(models.ErrCodeNavigation, msg, err)
	}
}
