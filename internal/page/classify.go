// Package page classifies fetched HTML and extracts candidate links from it.
//
// Archive mirrors serve two very different kinds of pages: machine-generated
// directory indexes (Apache/nginx autoindex and friends) and hand-authored
// download pages. The first admit a structural parse; the second need
// keyword heuristics. The classifier here picks the parse strategy.
package page

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// listing indicator vocabulary, matched case-insensitively against specific
// parts of the document. Two distinct hits classify the page as a directory
// listing.
const listingThreshold = 2

// IsDirectoryListing reports whether the HTML looks like an automatically
// generated index page. A false negative is harmless: the structural parser
// simply yields nothing and the caller falls back to heuristic extraction.
func IsDirectoryListing(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return countListingIndicators(doc) >= listingThreshold
}

func countListingIndicators(doc *goquery.Document) int {
	indicators := 0

	if headingContains(doc, "index of") {
		indicators++
	}
	if anchorOrTextContains(doc, "parent directory") {
		indicators++
	}
	lower := strings.ToLower(doc.Text())
	if strings.Contains(lower, "last modified") {
		indicators++
	}
	if hasNameSizeColumns(doc, lower) {
		indicators++
	}
	if hasPreformattedListing(doc) {
		indicators++
	}
	return indicators
}

func headingContains(doc *goquery.Document, needle string) bool {
	found := false
	doc.Find("title, h1, h2").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(s.Text()), needle) {
			found = true
			return false
		}
		return true
	})
	return found
}

func anchorOrTextContains(doc *goquery.Document, needle string) bool {
	found := false
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(s.Text()), needle) {
			found = true
			return false
		}
		return true
	})
	if found {
		return true
	}
	return strings.Contains(strings.ToLower(doc.Text()), needle)
}

// hasNameSizeColumns looks for the autoindex column-header pair. Both words
// are common in prose, so require them inside table headers or an explicit
// sort-link row before counting the indicator.
func hasNameSizeColumns(doc *goquery.Document, lowerText string) bool {
	name, size := false, false
	doc.Find("th, a[href^=\"?C=\"]").Each(func(_ int, s *goquery.Selection) {
		t := strings.ToLower(strings.TrimSpace(s.Text()))
		switch t {
		case "name":
			name = true
		case "size":
			size = true
		}
	})
	if name && size {
		return true
	}
	// Plain <pre> listings carry the header as text.
	return strings.Contains(lowerText, "name") &&
		strings.Contains(lowerText, "size") &&
		doc.Find("pre").Length() > 0
}

func hasPreformattedListing(doc *goquery.Document) bool {
	found := false
	doc.Find("pre").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find("a").Length() > 0 {
			found = true
			return false
		}
		return true
	})
	return found
}
