// Package crawl drives the per-target traversal from archive roots down to
// persisted release and download rows.
package crawl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/distindex/harvester/internal/page"
)

// Default probe suffixes, tried in order when a target configures none.
// Drawn from the directory layouts common across distribution mirrors.
var defaultSubfolderSuffixes = []string{
	"iso/",
	"isos/x86_64/",
	"release/",
	"amd64/iso-cd/",
	"x86_64/",
	"releases/x86_64/",
}

// Version tokens that alias a real release rather than naming one. They are
// dropped unless the target maps them explicitly.
var aliasDropTokens = map[string]struct{}{
	"latest":  {},
	"current": {},
}

// TargetSpec is the raw, externally supplied description of one crawlable
// distribution.
type TargetSpec struct {
	Slug              string            `mapstructure:"slug"`
	Name              string            `mapstructure:"name"`
	ShortName         string            `mapstructure:"short_name"`
	HomeURL           string            `mapstructure:"home_url"`
	RootURLs          []string          `mapstructure:"root_urls"`
	VersionPattern    string            `mapstructure:"version_pattern"`
	ArtifactPattern   string            `mapstructure:"artifact_pattern"`
	SubfolderSuffixes []string          `mapstructure:"subfolder_suffixes"`
	Aliases           map[string]string `mapstructure:"aliases"`
	LTSVersions       []string          `mapstructure:"lts_versions"`
}

// Target is a compiled, validated TargetSpec ready for crawling.
type Target struct {
	Slug              string
	Name              string
	ShortName         string
	RootURLs          []string
	VersionPattern    *regexp.Regexp
	ArtifactPattern   *regexp.Regexp
	SubfolderSuffixes []string

	aliases map[string]string
	lts     map[string]struct{}
}

// NewTarget compiles a spec. Errors here fail the target before any network
// activity happens.
func NewTarget(spec TargetSpec) (Target, error) {
	if spec.Slug == "" {
		return Target{}, fmt.Errorf("target: slug is required")
	}
	if len(spec.RootURLs) == 0 {
		return Target{}, fmt.Errorf("target %s: at least one root url is required", spec.Slug)
	}
	if spec.VersionPattern == "" {
		return Target{}, fmt.Errorf("target %s: version_pattern is required", spec.Slug)
	}

	versionRe, err := regexp.Compile(spec.VersionPattern)
	if err != nil {
		return Target{}, fmt.Errorf("target %s: version_pattern: %w", spec.Slug, err)
	}
	var artifactRe *regexp.Regexp
	if spec.ArtifactPattern != "" {
		artifactRe, err = regexp.Compile(spec.ArtifactPattern)
		if err != nil {
			return Target{}, fmt.Errorf("target %s: artifact_pattern: %w", spec.Slug, err)
		}
	}

	suffixes := spec.SubfolderSuffixes
	if len(suffixes) == 0 {
		suffixes = defaultSubfolderSuffixes
	}

	shortName := spec.ShortName
	if shortName == "" {
		shortName = spec.Slug
	}

	lts := make(map[string]struct{}, len(spec.LTSVersions))
	for _, v := range spec.LTSVersions {
		lts[v] = struct{}{}
	}

	aliases := make(map[string]string, len(spec.Aliases))
	for k, v := range spec.Aliases {
		aliases[strings.ToLower(k)] = v
	}

	return Target{
		Slug:              spec.Slug,
		Name:              spec.Name,
		ShortName:         shortName,
		RootURLs:          append([]string(nil), spec.RootURLs...),
		VersionPattern:    versionRe,
		ArtifactPattern:   artifactRe,
		SubfolderSuffixes: suffixes,
		aliases:           aliases,
		lts:               lts,
	}, nil
}

// Rules exposes the target's matching configuration to the extractor.
func (t Target) Rules() page.Rules {
	return page.Rules{
		VersionPattern:  t.VersionPattern,
		ArtifactPattern: t.ArtifactPattern,
		ShortName:       t.ShortName,
	}
}

// Canonical maps a raw version token to its stored form. Alias tokens like
// "latest" resolve through the target's alias table, or are dropped when
// unmapped so one release never lands under two names. An alias mapped to
// the empty string is an explicit drop.
func (t Target) Canonical(raw string) (string, bool) {
	token := strings.ToLower(strings.TrimSpace(raw))
	if mapped, ok := t.aliases[token]; ok {
		if mapped == "" {
			return "", false
		}
		return mapped, true
	}
	if _, drop := aliasDropTokens[token]; drop {
		return "", false
	}
	if raw == "" {
		return "", false
	}
	return raw, true
}

// IsLTS reports whether the version is configured as long-term support.
func (t Target) IsLTS(version string) bool {
	_, ok := t.lts[version]
	return ok
}
