package page

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/distindex/harvester/internal/arch"
)

// Kind discriminates extracted link candidates.
type Kind int

const (
	// KindVersionFolder is a path segment matching the target's version rule.
	KindVersionFolder Kind = iota
	// KindArtifact is an installable image link.
	KindArtifact
	// KindPeerToPeer is a magnet URI or .torrent metafile link.
	KindPeerToPeer
)

// Candidate is a link pulled out of one page. Candidates are transient:
// the orchestrator consumes them and only Release/Download rows persist.
type Candidate struct {
	URL      string
	Kind     Kind
	Version  string    // set for version folders
	DateHint time.Time // zero when the page exposed no usable timestamp
	Size     string    // listing size column, free text, may be empty
}

// Rules carries the per-target matching configuration the extractor needs.
type Rules struct {
	VersionPattern  *regexp.Regexp
	ArtifactPattern *regexp.Regexp
	ShortName       string
}

func (r Rules) artifactMatch(href string) bool {
	if r.ArtifactPattern != nil {
		return r.ArtifactPattern.MatchString(href)
	}
	return strings.HasSuffix(strings.ToLower(href), ".iso")
}

func (r Rules) versionMatch(href string) (string, bool) {
	if r.VersionPattern == nil {
		return "", false
	}
	token := strings.TrimSuffix(strings.TrimSpace(href), "/")
	if token == "" || token == "." || token == ".." || strings.Contains(token, "/") || strings.HasPrefix(token, "?") {
		return "", false
	}
	m := r.VersionPattern.FindStringSubmatch(token)
	if m == nil {
		// Patterns written with a trailing "/?$" still need to see the slash.
		m = r.VersionPattern.FindStringSubmatch(token + "/")
	}
	if m == nil {
		return "", false
	}
	if len(m) > 1 && m[1] != "" {
		return m[1], true
	}
	return token, true
}

var (
	isoDateRe    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	apacheDateRe = regexp.MustCompile(`\d{2}-[A-Za-z]{3}-\d{4}`)
	sizeRe       = regexp.MustCompile(`\b(\d+(?:\.\d+)?[KMG])\b`)

	downloadKeywords = []string{"download", "iso", "get", "amd64", "x86_64", "x64", "64-bit", "64bit"}
	followupPaths    = []string{"/download", "/downloads", "/get", "/iso", "/releases"}
)

// maxFollowups bounds the one-hop follow when heuristic extraction comes up
// short.
const maxFollowups = 3

// ExtractListing parses a directory-listing page structurally: every anchor
// is a file-or-folder entry. Artifact candidates carry the timestamp found
// in the same row and come back ordered most-recent-first (unknown dates
// last); version folders keep document order.
func ExtractListing(base *url.URL, body []byte, rules Rules) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	seen := make(map[string]struct{})
	var folders, artifacts []Candidate

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		if cand, ok := peerToPeerCandidate(base, href); ok {
			if mark(seen, cand.URL) {
				artifacts = append(artifacts, cand)
			}
			return
		}
		abs, ok := absoluteURL(base, href)
		if !ok {
			return
		}
		switch {
		case rules.artifactMatch(href):
			if !mark(seen, abs) {
				return
			}
			date, size := rowMetadata(s)
			artifacts = append(artifacts, Candidate{
				URL:      abs,
				Kind:     KindArtifact,
				DateHint: date,
				Size:     size,
			})
		default:
			if version, ok := rules.versionMatch(href); ok && mark(seen, abs) {
				folders = append(folders, Candidate{
					URL:     ensureTrailingSlash(abs),
					Kind:    KindVersionFolder,
					Version: version,
				})
			}
		}
	})

	sortByDateDesc(artifacts)
	return append(folders, artifacts...), nil
}

// ExtractHeuristic scores anchors on an authored page. An anchor qualifies
// when its target literally ends in the artifact suffix, or its visible text
// carries download intent and the target mentions the suffix or an
// architecture token. Peer-to-peer links are collected unconditionally.
func ExtractHeuristic(base *url.URL, body []byte, rules Rules) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	keywords := append([]string(nil), downloadKeywords...)
	if rules.ShortName != "" {
		keywords = append(keywords, strings.ToLower(rules.ShortName))
	}

	seen := make(map[string]struct{})
	var artifacts []Candidate

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		if cand, ok := peerToPeerCandidate(base, href); ok {
			if mark(seen, cand.URL) {
				artifacts = append(artifacts, cand)
			}
			return
		}
		abs, ok := absoluteURL(base, href)
		if !ok {
			return
		}
		lowerHref := strings.ToLower(href)
		if strings.HasSuffix(strings.ToLower(abs), ".iso") || rules.artifactMatch(href) {
			if mark(seen, abs) {
				artifacts = append(artifacts, Candidate{URL: abs, Kind: KindArtifact})
			}
			return
		}
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		if !containsAny(text, keywords) {
			return
		}
		if strings.Contains(lowerHref, "iso") || arch.Token(lowerHref) {
			if mark(seen, abs) {
				artifacts = append(artifacts, Candidate{URL: abs, Kind: KindArtifact})
			}
		}
	})

	return artifacts, nil
}

// FollowupLinks returns secondary-page URLs worth one extraction hop:
// anchors pointing at dedicated download/release-history paths. Capped and
// deduplicated; the page's own URL is excluded.
func FollowupLinks(base *url.URL, body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		lower := strings.ToLower(strings.TrimSpace(href))
		if lower == "" || strings.HasPrefix(lower, "magnet:") {
			return true
		}
		if !containsAny(lower, followupPaths) {
			return true
		}
		abs, ok := absoluteURL(base, href)
		if !ok || abs == base.String() {
			return true
		}
		if mark(seen, abs) {
			out = append(out, abs)
		}
		return len(out) < maxFollowups
	})
	return out
}

func peerToPeerCandidate(base *url.URL, href string) (Candidate, bool) {
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "magnet:") {
		return Candidate{URL: href, Kind: KindPeerToPeer}, true
	}
	if strings.HasSuffix(lower, ".torrent") {
		if abs, ok := absoluteURL(base, href); ok {
			return Candidate{URL: abs, Kind: KindPeerToPeer}, true
		}
	}
	return Candidate{}, false
}

func absoluteURL(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// rowMetadata pulls the timestamp and size tokens adjacent to an anchor:
// the surrounding table row for table listings, the trailing text node for
// <pre> listings.
func rowMetadata(s *goquery.Selection) (time.Time, string) {
	var context string
	if row := s.Closest("tr"); row.Length() > 0 {
		context = row.Text()
	} else {
		context = trailingText(s)
	}
	return parseRowDate(context), parseRowSize(context)
}

func trailingText(s *goquery.Selection) string {
	if len(s.Nodes) == 0 {
		return ""
	}
	var b strings.Builder
	for n := s.Nodes[0].NextSibling; n != nil; n = n.NextSibling {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			break
		}
	}
	return b.String()
}

func parseRowDate(text string) time.Time {
	if m := isoDateRe.FindString(text); m != "" {
		if d, err := time.Parse("2006-01-02", m); err == nil {
			return d
		}
	}
	if m := apacheDateRe.FindString(text); m != "" {
		if d, err := time.Parse("02-Jan-2006", m); err == nil {
			return d
		}
	}
	return time.Time{}
}

func parseRowSize(text string) string {
	return sizeRe.FindString(text)
}

func sortByDateDesc(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].DateHint, cands[j].DateHint
		if a.IsZero() || b.IsZero() {
			return !a.IsZero() && b.IsZero()
		}
		return a.After(b)
	})
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func mark(seen map[string]struct{}, key string) bool {
	if _, ok := seen[key]; ok {
		return false
	}
	seen[key] = struct{}{}
	return true
}

func ensureTrailingSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
