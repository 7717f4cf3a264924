package models

// RenderRequest is the payload for POST /api/v1/render.
type RenderRequest struct {
	// URL is the target page to render. Required.
	URL string `json:"url" binding:"required,url"`

	// Timeout is the maximum duration in seconds for the whole operation,
	// including the wait for a free browser.
	// Default: 30. Max: 120.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=120"`

	// Stealth enables anti-bot-detection evasions (e.g. navigator.webdriver masking).
	Stealth bool `json:"stealth,omitempty"`

	// BlockAds blocks requests to well-known ad and tracking domains.
	BlockAds bool `json:"block_ads,omitempty"`

	// Headers are extra HTTP headers sent with the navigation.
	Headers map[string]string `json:"headers,omitempty"`

	// OutputFormat controls the response body format.
	// Allowed: "html" (default), "markdown", "text".
	OutputFormat string `json:"output_format,omitempty" binding:"omitempty,oneof=html markdown text"`

	// CSSSelector narrows the rendered HTML to the matched elements.
	CSSSelector string `json:"css_selector,omitempty"`

	// MaxAge enables the response cache. Value in milliseconds; 0 disables.
	MaxAge int `json:"max_age,omitempty" binding:"omitempty,min=0"`
}

// Defaults applies default values to unset fields.
func (r *RenderRequest) Defaults() {
	if r.Timeout == 0 {
		r.Timeout = 30
	}
	if r.OutputFormat == "" {
		r.OutputFormat = "html"
	}
}
