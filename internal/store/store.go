// Package store persists discovered releases and download links.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrDistroNotFound is returned when a target references a distribution
// slug with no backing row.
var ErrDistroNotFound = errors.New("distribution not found")

// Release is one historical version of a distribution.
type Release struct {
	ID          int64
	DistroID    int64
	Version     string
	ReleaseDate *time.Time
	IsLTS       bool
}

// Download is one architecture's install media for a release.
type Download struct {
	ID           int64
	ReleaseID    int64
	Architecture string
	ISOURL       string
	TorrentURL   string
	Size         string
}

// UpsertResult reports what a download upsert actually did.
type UpsertResult struct {
	Created bool
	Updated bool
}

// Store is the persistence surface the crawl loop runs against.
type Store interface {
	// DistroIDBySlug resolves a target's distribution row, or
	// ErrDistroNotFound.
	DistroIDBySlug(ctx context.Context, slug string) (int64, error)

	// EnsureRelease returns the release id for (distro, version),
	// inserting the row if it does not exist. A concurrent insert of the
	// same version is not an error; the winner's id is returned.
	EnsureRelease(ctx context.Context, rel Release) (id int64, created bool, err error)

	// UpsertDownload inserts the download row for (release, architecture),
	// or fills in hollow columns of an existing row. A real stored link is
	// never overwritten.
	UpsertDownload(ctx context.Context, dl Download) (UpsertResult, error)

	// CompleteVersions lists version strings of the distribution that
	// already hold at least one real installable link.
	CompleteVersions(ctx context.Context, distroID int64) (map[string]struct{}, error)
}

// Hollow reports whether a stored link cell carries no usable value: empty,
// or a placeholder left by an earlier seeding pass.
func Hollow(link string) bool {
	return link == "" || strings.Contains(strings.ToLower(link), "placeholder")
}
