package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool querier
}

// New connects a Postgres-backed store using the provided config.
func New(ctx context.Context, cfg Config) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// DistroIDBySlug resolves the distribution row for a target.
func (s *Postgres) DistroIDBySlug(ctx context.Context, slug string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM distributions WHERE slug = $1`, slug).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("slug %q: %w", slug, ErrDistroNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("select distribution: %w", err)
	}
	return id, nil
}

// EnsureRelease reads first, inserts on miss, and resolves a racing insert
// of the same (distro, version) by re-reading the winner's row.
func (s *Postgres) EnsureRelease(ctx context.Context, rel Release) (int64, bool, error) {
	id, err := s.findRelease(ctx, rel.DistroID, rel.Version)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("select release: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO releases (distro_id, version_number, release_date, is_lts)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		rel.DistroID, rel.Version, rel.ReleaseDate, rel.IsLTS).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !isUniqueViolation(err) {
		return 0, false, fmt.Errorf("insert release: %w", err)
	}

	id, err = s.findRelease(ctx, rel.DistroID, rel.Version)
	if err != nil {
		return 0, false, fmt.Errorf("reread release after conflict: %w", err)
	}
	return id, false, nil
}

func (s *Postgres) findRelease(ctx context.Context, distroID int64, version string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM releases WHERE distro_id = $1 AND version_number = $2`,
		distroID, version).Scan(&id)
	return id, err
}

// UpsertDownload inserts the (release, architecture) row or fills hollow
// link columns of the existing one. Stored real links win over new
// candidates.
func (s *Postgres) UpsertDownload(ctx context.Context, dl Download) (UpsertResult, error) {
	var (
		id              int64
		curISO, curTorr string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(iso_url, ''), COALESCE(torrent_url, '')
		 FROM downloads WHERE release_id = $1 AND architecture = $2`,
		dl.ReleaseID, dl.Architecture).Scan(&id, &curISO, &curTorr)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = s.pool.Exec(ctx,
			`INSERT INTO downloads (release_id, architecture, iso_url, torrent_url, download_size)
			 VALUES ($1, $2, $3, $4, $5)`,
			dl.ReleaseID, dl.Architecture, dl.ISOURL, dl.TorrentURL, dl.Size)
		if isUniqueViolation(err) {
			// Someone beat us to it; their row stands.
			return UpsertResult{}, nil
		}
		if err != nil {
			return UpsertResult{}, fmt.Errorf("insert download: %w", err)
		}
		return UpsertResult{Created: true}, nil
	case err != nil:
		return UpsertResult{}, fmt.Errorf("select download: %w", err)
	}

	newISO, newTorr := curISO, curTorr
	if Hollow(curISO) && dl.ISOURL != "" {
		newISO = dl.ISOURL
	}
	if Hollow(curTorr) && dl.TorrentURL != "" {
		newTorr = dl.TorrentURL
	}
	if newISO == curISO && newTorr == curTorr {
		return UpsertResult{}, nil
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE downloads SET iso_url = $1, torrent_url = $2 WHERE id = $3`,
		newISO, newTorr, id)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("update download: %w", err)
	}
	return UpsertResult{Updated: true}, nil
}

// CompleteVersions lists versions of the distribution that already carry a
// real installable link.
func (s *Postgres) CompleteVersions(ctx context.Context, distroID int64) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT r.version_number
		 FROM releases r
		 JOIN downloads d ON d.release_id = r.id
		 WHERE r.distro_id = $1
		   AND COALESCE(d.iso_url, '') <> ''
		   AND d.iso_url NOT LIKE '%placeholder%'`,
		distroID)
	if err != nil {
		return nil, fmt.Errorf("select complete versions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out[v] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
