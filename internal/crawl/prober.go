package crawl

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/distindex/harvester/internal/fetch"
	"github.com/distindex/harvester/internal/page"
)

// Prober finds a version folder's artifacts when the folder page itself
// lists none, by trying the target's subfolder suffixes in order and
// stopping at the first one that yields candidates.
type Prober struct {
	fetcher fetch.Fetcher
	logger  *zap.Logger
}

// NewProber builds a prober on top of the given fetcher.
func NewProber(fetcher fetch.Fetcher, logger *zap.Logger) *Prober {
	return &Prober{fetcher: fetcher, logger: logger}
}

// Probe fetches the folder and, if it exposes no artifacts, walks the
// suffix list. It returns the artifact candidates and the path they were
// found under. Fetch failures on a suffix count as no candidates there; the
// probe moves on. Fetch attempts are bounded by the suffix list length plus
// the folder itself.
func (p *Prober) Probe(ctx context.Context, folderURL string, t Target) ([]page.Candidate, string, error) {
	paths := make([]string, 0, len(t.SubfolderSuffixes)+1)
	paths = append(paths, "")
	paths = append(paths, t.SubfolderSuffixes...)

	base := strings.TrimSuffix(folderURL, "/") + "/"
	for _, suffix := range paths {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		probeURL := base + suffix
		cands, err := p.extractArtifacts(ctx, probeURL, t)
		if err != nil {
			p.logger.Debug("probe miss",
				zap.String("target", t.Slug),
				zap.String("url", probeURL),
				zap.Error(err),
			)
			continue
		}
		if len(cands) > 0 {
			return cands, suffix, nil
		}
	}
	return nil, "", nil
}

func (p *Prober) extractArtifacts(ctx context.Context, rawURL string, t Target) ([]page.Candidate, error) {
	res, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(res.FinalURL)
	if err != nil || base.Host == "" {
		base, err = url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
	}

	var cands []page.Candidate
	if page.IsDirectoryListing(res.Body) {
		cands, err = page.ExtractListing(base, res.Body, t.Rules())
	} else {
		cands, err = page.ExtractHeuristic(base, res.Body, t.Rules())
	}
	if err != nil {
		return nil, err
	}

	artifacts := cands[:0]
	for _, c := range cands {
		if c.Kind == page.KindArtifact || c.Kind == page.KindPeerToPeer {
			artifacts = append(artifacts, c)
		}
	}
	return artifacts, nil
}
