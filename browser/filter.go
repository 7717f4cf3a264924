package browser

import (
	"strings"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockableTypes are the subresource types BROWSERPOOL_BLOCKED_RESOURCES may name.
var blockableTypes = []proto.NetworkResourceType{
	proto.NetworkResourceTypeImage,
	proto.NetworkResourceTypeStylesheet,
	proto.NetworkResourceTypeFont,
	proto.NetworkResourceTypeMedia,
	proto.NetworkResourceTypeScript,
}

// adHosts are refused, subdomains included, when a render asks for ad blocking.
var adHosts = []string{
	"adnxs.com",
	"amazon-adsystem.com",
	"connect.facebook.net",
	"consensu.org",
	"criteo.com",
	"doubleclick.net",
	"google-analytics.com",
	"googleadservices.com",
	"googlesyndication.com",
	"googletagmanager.com",
	"hotjar.com",
	"outbrain.com",
	"scorecardresearch.com",
	"segment.io",
	"taboola.com",
}

// parseResourceTypes resolves configured type names case-insensitively,
// skipping unknown ones.
func parseResourceTypes(names []string) map[proto.NetworkResourceType]bool {
	types := make(map[proto.NetworkResourceType]bool, len(names))
	for _, name := range names {
		for _, rt := range blockableTypes {
			if strings.EqualFold(name, string(rt)) {
				types[rt] = true
			}
		}
	}
	return types
}

func isAdHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range adHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// requestFilter is the blocking policy of a single render.
type requestFilter struct {
	types    map[proto.NetworkResourceType]bool
	blockAds bool
}

func (f requestFilter) enabled() bool {
	return len(f.types) > 0 || f.blockAds
}

func (f requestFilter) blocks(rt proto.NetworkResourceType, host string) bool {
	return f.types[rt] || (f.blockAds && isAdHost(host))
}

// intercept routes every request of page through f, counting refusals on
// blocked. The returned func stops the router; it is a no-op when f blocks
// nothing.
func intercept(page *rod.Page, f requestFilter, blocked *atomic.Int64) (stop func()) {
	if !f.enabled() {
		return func() {}
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(h *rod.Hijack) {
		if f.blocks(h.Request.Type(), h.Request.URL().Hostname()) {
			blocked.Add(1)
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()

	return func() { _ = router.Stop() }
}
