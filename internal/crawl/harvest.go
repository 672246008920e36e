package crawl

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/distindex/harvester/internal/arch"
	"github.com/distindex/harvester/internal/fetch"
	"github.com/distindex/harvester/internal/metrics"
	"github.com/distindex/harvester/internal/page"
	"github.com/distindex/harvester/internal/store"
	"github.com/distindex/harvester/internal/version"
)

// Artifact candidates retained per folder. Mirrors carry checksums, deltas
// and netboot images alongside the install media; four is enough to cover
// the architectures worth keeping.
const maxArtifactsPerFolder = 4

// Heuristic extraction follows one hop to a dedicated download page when it
// finds fewer direct candidates than this.
const followThreshold = 2

// Options tune the traversal policy shared by all targets in a run.
type Options struct {
	// Parallelism bounds concurrently crawled targets.
	Parallelism int
	// FolderVisitCap bounds version folders fetched per target.
	FolderVisitCap int
	// MaxNewReleases stops a target early once this many releases gained
	// download rows.
	MaxNewReleases int
	// Delay is the pause between consecutive fetches within one target.
	Delay time.Duration
	// SkipUnparsedFolders denies fetches for version folders whose token
	// fits no recognized version format. Off by default: an opaque token
	// still ranks last, so it only costs a fetch once the parseable
	// folders are exhausted.
	SkipUnparsedFolders bool
}

func (o Options) withDefaults() Options {
	if o.Parallelism <= 0 {
		o.Parallelism = 2
	}
	if o.FolderVisitCap <= 0 {
		o.FolderVisitCap = 12
	}
	if o.MaxNewReleases <= 0 {
		o.MaxNewReleases = 5
	}
	return o
}

// TargetResult is the attributable outcome for one target.
type TargetResult struct {
	Slug           string
	RootURL        string
	FoldersVisited int
	ReleasesAdded  int
	DownloadsAdded int
	// Reason is empty on success; otherwise it names what ended the
	// target's crawl.
	Reason string
}

// Failed reports whether the target's crawl was abandoned.
func (r TargetResult) Failed() bool { return r.Reason != "" }

// Summary is the run report handed back to the caller for logging.
type Summary struct {
	RunID            string
	Started          time.Time
	Finished         time.Time
	TargetsProcessed int
	TargetsFailed    int
	ReleasesAdded    int
	DownloadsAdded   int
	Targets          []TargetResult
}

// Harvester walks each target's archive tree and upserts what it finds.
type Harvester struct {
	static   fetch.Fetcher
	rendered fetch.Fetcher
	detector *fetch.RenderDetector
	prober   *Prober
	store    store.Store
	logger   *zap.Logger
	opts     Options
}

// New assembles a harvester. The rendered fetcher may be nil, in which case
// script-built pages are crawled from their static HTML only.
func New(static, rendered fetch.Fetcher, detector *fetch.RenderDetector, st store.Store, logger *zap.Logger, opts Options) *Harvester {
	h := &Harvester{
		static:   static,
		rendered: rendered,
		detector: detector,
		store:    st,
		logger:   logger,
		opts:     opts.withDefaults(),
	}
	h.prober = NewProber(fetcherFunc(h.fetchPage), logger)
	return h
}

type fetcherFunc func(ctx context.Context, rawURL string) (fetch.Result, error)

func (f fetcherFunc) Fetch(ctx context.Context, rawURL string) (fetch.Result, error) {
	return f(ctx, rawURL)
}

// Run crawls all targets with a bounded pool. Individual target failures
// land in the summary; only context cancellation aborts the run itself.
func (h *Harvester) Run(ctx context.Context, targets []Target) (Summary, error) {
	summary := Summary{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
		Targets: make([]TargetResult, len(targets)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.opts.Parallelism)

	var mu sync.Mutex
	for i, t := range targets {
		g.Go(func() error {
			res := h.harvestTarget(gctx, t)
			mu.Lock()
			summary.Targets[i] = res
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	summary.Finished = time.Now().UTC()
	for _, res := range summary.Targets {
		summary.TargetsProcessed++
		summary.ReleasesAdded += res.ReleasesAdded
		summary.DownloadsAdded += res.DownloadsAdded
		if res.Failed() {
			summary.TargetsFailed++
		}
	}
	if err != nil {
		return summary, err
	}
	return summary, ctx.Err()
}

func (h *Harvester) harvestTarget(ctx context.Context, t Target) TargetResult {
	res := TargetResult{Slug: t.Slug}
	log := h.logger.With(zap.String("target", t.Slug))

	fail := func(reason string, err error) TargetResult {
		res.Reason = reason
		metrics.TargetFailures.Inc()
		log.Warn("target abandoned", zap.String("reason", reason), zap.Error(err))
		return res
	}

	distroID, err := h.store.DistroIDBySlug(ctx, t.Slug)
	if err != nil {
		return fail("distribution lookup failed", err)
	}
	complete, err := h.store.CompleteVersions(ctx, distroID)
	if err != nil {
		return fail("completeness query failed", err)
	}

	root, rootPage, err := h.fetchRoot(ctx, t, log)
	if err != nil {
		return fail("no reachable root url", err)
	}
	res.RootURL = root

	base, err := url.Parse(rootPage.FinalURL)
	if err != nil || base.Host == "" {
		if base, err = url.Parse(root); err != nil {
			return fail("unparseable root url", err)
		}
	}

	folders, artifacts := h.extractRoot(ctx, base, rootPage, t, log)
	log.Info("root extracted",
		zap.String("url", root),
		zap.Int("folders", len(folders)),
		zap.Int("artifacts", len(artifacts)),
	)

	// Authored pages hand us artifacts with no folder context; their
	// version comes out of the link itself. These count against the
	// per-run release quota like folder finds do.
	newReleases := 0
	for ver, group := range groupByVersion(artifacts, t) {
		if _, done := complete[ver]; done {
			continue
		}
		if h.persistVersion(ctx, distroID, ver, group, t, &res, log) {
			complete[ver] = struct{}{}
			newReleases++
		}
	}

	h.visitFolders(ctx, distroID, folders, complete, newReleases, t, &res, log)
	return res
}

func (h *Harvester) visitFolders(ctx context.Context, distroID int64, folders []page.Candidate, complete map[string]struct{}, newReleases int, t Target, res *TargetResult, log *zap.Logger) {
	ranked := rankFolders(folders)
	releasesWithDownloads := newReleases

	for _, folder := range ranked {
		if ctx.Err() != nil {
			return
		}
		ver, ok := t.Canonical(folder.Version)
		if !ok {
			continue
		}
		if h.opts.SkipUnparsedFolders && !version.Parse(ver).Parseable() {
			log.Debug("unparsed folder denied", zap.String("folder", folder.URL))
			continue
		}
		if _, done := complete[ver]; done {
			continue
		}
		if res.FoldersVisited >= h.opts.FolderVisitCap {
			log.Debug("folder visit cap reached")
			return
		}
		if releasesWithDownloads >= h.opts.MaxNewReleases {
			log.Debug("enough new releases for this run")
			return
		}

		h.pause(ctx)
		res.FoldersVisited++
		metrics.FoldersVisited.Inc()

		cands, foundUnder, err := h.prober.Probe(ctx, folder.URL, t)
		if err != nil {
			log.Warn("folder skipped",
				zap.String("folder", folder.URL),
				zap.Error(err),
			)
			continue
		}
		if len(cands) == 0 {
			log.Debug("folder empty", zap.String("folder", folder.URL))
			continue
		}
		log.Debug("artifacts found",
			zap.String("folder", folder.URL),
			zap.String("under", foundUnder),
			zap.Int("count", len(cands)),
		)

		if h.persistVersion(ctx, distroID, ver, cands, t, res, log) {
			complete[ver] = struct{}{}
			releasesWithDownloads++
		}
	}
}

// fetchRoot tries the configured root URLs in order and returns the first
// page that comes back.
func (h *Harvester) fetchRoot(ctx context.Context, t Target, log *zap.Logger) (string, fetch.Result, error) {
	var lastErr error
	for i, root := range t.RootURLs {
		if i > 0 {
			h.pause(ctx)
		}
		res, err := h.fetchPage(ctx, root)
		if err != nil {
			lastErr = err
			log.Warn("root fetch failed", zap.String("url", root), zap.Error(err))
			continue
		}
		return root, res, nil
	}
	return "", fetch.Result{}, lastErr
}

// fetchPage is the single fetch path: static first, promoted to the
// headless browser when the detector flags an app-shell response.
func (h *Harvester) fetchPage(ctx context.Context, rawURL string) (fetch.Result, error) {
	res, err := h.static.Fetch(ctx, rawURL)
	if err != nil {
		metrics.Fetches.WithLabelValues(metrics.OutcomeError).Inc()
		return fetch.Result{}, err
	}
	metrics.Fetches.WithLabelValues(metrics.OutcomeOK).Inc()

	if h.rendered == nil || !h.detector.ShouldRender(res) {
		return res, nil
	}
	rendered, rerr := h.rendered.Fetch(ctx, rawURL)
	if rerr != nil {
		h.logger.Warn("render fallback to static body",
			zap.String("url", rawURL),
			zap.Error(rerr),
		)
		return res, nil
	}
	metrics.Fetches.WithLabelValues(metrics.OutcomeRendered).Inc()
	return rendered, nil
}

// extractRoot classifies the root page and pulls candidates from it, with
// the one-hop follow for authored pages that hide their links one click
// deeper. Extraction errors degrade to zero candidates.
func (h *Harvester) extractRoot(ctx context.Context, base *url.URL, rootPage fetch.Result, t Target, log *zap.Logger) (folders, artifacts []page.Candidate) {
	rules := t.Rules()

	var cands []page.Candidate
	var err error
	if page.IsDirectoryListing(rootPage.Body) {
		cands, err = page.ExtractListing(base, rootPage.Body, rules)
	} else {
		cands, err = page.ExtractHeuristic(base, rootPage.Body, rules)
	}
	if err != nil {
		log.Warn("root parse failed", zap.Error(err))
		return nil, nil
	}

	folders, artifacts = splitCandidates(cands)
	if len(folders) > 0 || len(artifacts) >= followThreshold {
		return folders, artifacts
	}

	for _, next := range page.FollowupLinks(base, rootPage.Body) {
		h.pause(ctx)
		secondary, ferr := h.fetchPage(ctx, next)
		if ferr != nil {
			log.Debug("followup fetch failed", zap.String("url", next), zap.Error(ferr))
			continue
		}
		secBase, perr := url.Parse(secondary.FinalURL)
		if perr != nil || secBase.Host == "" {
			if secBase, perr = url.Parse(next); perr != nil {
				continue
			}
		}
		var more []page.Candidate
		if page.IsDirectoryListing(secondary.Body) {
			more, ferr = page.ExtractListing(secBase, secondary.Body, rules)
		} else {
			more, ferr = page.ExtractHeuristic(secBase, secondary.Body, rules)
		}
		if ferr != nil {
			continue
		}
		mf, ma := splitCandidates(more)
		folders = mergeCandidates(folders, mf)
		artifacts = mergeCandidates(artifacts, ma)
		if len(folders) > 0 || len(artifacts) >= followThreshold {
			break
		}
	}
	return folders, artifacts
}

// persistVersion writes one release and its per-architecture downloads.
// Returns true when at least one download row was created or filled in.
func (h *Harvester) persistVersion(ctx context.Context, distroID int64, ver string, cands []page.Candidate, t Target, res *TargetResult, log *zap.Logger) bool {
	downloads := buildDownloads(cands)
	if len(downloads) == 0 {
		return false
	}

	rel := store.Release{
		DistroID:    distroID,
		Version:     ver,
		ReleaseDate: releaseDate(ver, cands),
		IsLTS:       t.IsLTS(ver),
	}
	relID, created, err := h.store.EnsureRelease(ctx, rel)
	if err != nil {
		log.Warn("release not persisted", zap.String("version", ver), zap.Error(err))
		return false
	}
	if created {
		res.ReleasesAdded++
		metrics.ReleasesAdded.Inc()
		log.Info("release added", zap.String("version", ver))
	}

	any := false
	for _, dl := range downloads {
		dl.ReleaseID = relID
		result, err := h.store.UpsertDownload(ctx, dl)
		if err != nil {
			log.Warn("download not persisted",
				zap.String("version", ver),
				zap.String("arch", dl.Architecture),
				zap.Error(err),
			)
			continue
		}
		if result.Created || result.Updated {
			res.DownloadsAdded++
			metrics.DownloadsAdded.Inc()
			any = true
		}
	}
	return any
}

// buildDownloads folds artifact candidates into at most one download per
// architecture. Candidates arrive recency-first, so the first image per
// architecture wins; torrents attach to their architecture's row.
func buildDownloads(cands []page.Candidate) []store.Download {
	byArch := make(map[arch.Tag]*store.Download)
	order := make([]arch.Tag, 0, 4)
	images := 0

	for _, c := range cands {
		tag := arch.Detect(c.URL)
		switch c.Kind {
		case page.KindArtifact:
			if images >= maxArtifactsPerFolder {
				continue
			}
			images++
			if dl, ok := byArch[tag]; ok {
				if dl.ISOURL == "" {
					dl.ISOURL = c.URL
					dl.Size = c.Size
				}
				continue
			}
			byArch[tag] = &store.Download{
				Architecture: string(tag),
				ISOURL:       c.URL,
				Size:         c.Size,
			}
			order = append(order, tag)
		case page.KindPeerToPeer:
			if dl, ok := byArch[tag]; ok {
				if dl.TorrentURL == "" {
					dl.TorrentURL = c.URL
				}
				continue
			}
			byArch[tag] = &store.Download{
				Architecture: string(tag),
				TorrentURL:   c.URL,
			}
			order = append(order, tag)
		}
	}

	out := make([]store.Download, 0, len(order))
	for _, tag := range order {
		out = append(out, *byArch[tag])
	}
	return out
}

// releaseDate picks the best available hint: an artifact's listing
// timestamp, then a date baked into the version string, then now.
func releaseDate(ver string, cands []page.Candidate) *time.Time {
	for _, c := range cands {
		if c.Kind == page.KindArtifact && !c.DateHint.IsZero() {
			d := c.DateHint
			return &d
		}
	}
	if d, ok := version.Parse(ver).DateHint(); ok {
		return &d
	}
	now := time.Now().UTC()
	return &now
}

// rankFolders orders version folders newest first. Unparseable tokens sort
// last but stay eligible.
func rankFolders(folders []page.Candidate) []page.Candidate {
	ranked := append([]page.Candidate(nil), folders...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return version.Less(version.Parse(ranked[j].Version), version.Parse(ranked[i].Version))
	})
	return ranked
}

// groupByVersion buckets loose artifacts by the version their URL exposes.
// Links with no recoverable version are dropped, logged nowhere: an
// authored page's stray anchors are noise, not errors.
func groupByVersion(artifacts []page.Candidate, t Target) map[string][]page.Candidate {
	groups := make(map[string][]page.Candidate)
	for _, c := range artifacts {
		raw := versionFromURL(c.URL, t.VersionPattern)
		if raw == "" {
			continue
		}
		ver, ok := t.Canonical(raw)
		if !ok {
			continue
		}
		groups[ver] = append(groups[ver], c)
	}
	return groups
}

// versionFromURL scans the URL's path segments and filename for the
// target's version rule.
func versionFromURL(rawURL string, pattern *regexp.Regexp) string {
	if pattern == nil {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	// Filename last: "distro-10.1-amd64.iso" beats a stray "10" directory
	// only when no segment matches outright.
	for _, seg := range segments {
		if m := pattern.FindStringSubmatch(seg); m != nil {
			if len(m) > 1 && m[1] != "" {
				return m[1]
			}
			return m[0]
		}
	}
	name := path.Base(u.Path)
	if m := pattern.FindStringSubmatch(name); m != nil && len(m) > 1 {
		return m[1]
	}
	return ""
}

func splitCandidates(cands []page.Candidate) (folders, artifacts []page.Candidate) {
	for _, c := range cands {
		if c.Kind == page.KindVersionFolder {
			folders = append(folders, c)
		} else {
			artifacts = append(artifacts, c)
		}
	}
	return folders, artifacts
}

func mergeCandidates(dst, src []page.Candidate) []page.Candidate {
	seen := make(map[string]struct{}, len(dst))
	for _, c := range dst {
		seen[c.URL] = struct{}{}
	}
	for _, c := range src {
		if _, ok := seen[c.URL]; ok {
			continue
		}
		seen[c.URL] = struct{}{}
		dst = append(dst, c)
	}
	return dst
}

func (h *Harvester) pause(ctx context.Context) {
	if h.opts.Delay <= 0 {
		return
	}
	timer := time.NewTimer(h.opts.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
