package fetch

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RenderDetector decides whether a statically fetched page should be
// refetched through the headless browser.
type RenderDetector struct {
	minHTMLBytes int
	keywords     [][]byte
}

// App-shell markers that usually mean the static body carries no links.
var defaultRenderKeywords = []string{
	"__next_data__",
	"window.__nuxt__",
	"ng-app",
	"enable javascript",
	"javascript is required",
}

// NewRenderDetector constructs a detector with the configured thresholds.
// Passing no keywords selects the defaults.
func NewRenderDetector(minBytes int, keywords []string) *RenderDetector {
	if len(keywords) == 0 {
		keywords = defaultRenderKeywords
	}
	lowered := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowered = append(lowered, bytes.ToLower([]byte(kw)))
	}
	return &RenderDetector{
		minHTMLBytes: minBytes,
		keywords:     lowered,
	}
}

// ShouldRender inspects the static fetch result for signals that the page
// builds its content client-side: a near-empty body, app-shell markers, or
// a document with no anchors at all.
func (d *RenderDetector) ShouldRender(res Result) bool {
	if d == nil || res.Rendered {
		return false
	}
	switch {
	case d.bodyBelowThreshold(res.Body):
		return true
	case d.containsKeywords(res.Body):
		return true
	default:
		return hasNoAnchors(res.Body)
	}
}

func (d *RenderDetector) bodyBelowThreshold(body []byte) bool {
	return d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes
}

func (d *RenderDetector) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func hasNoAnchors(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	return doc.Find("a[href]").Length() == 0
}
