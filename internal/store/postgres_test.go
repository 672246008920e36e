package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s, err := NewWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func uniqueViolationErr() error {
	return &pgconn.PgError{Code: uniqueViolation, ConstraintName: "releases_distro_id_version_number_key"}
}

func TestDistroIDBySlug(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id FROM distributions").
		WithArgs("archlinux").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))

	id, err := s.DistroIDBySlug(context.Background(), "archlinux")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDistroIDBySlugMissing(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id FROM distributions").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.DistroIDBySlug(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrDistroNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureReleaseExisting(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id FROM releases").
		WithArgs(int64(3), "10").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, created, err := s.EnsureRelease(context.Background(), Release{DistroID: 3, Version: "10"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureReleaseInserts(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id FROM releases").
		WithArgs(int64(3), "10").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO releases").
		WithArgs(int64(3), "10", pgxmock.AnyArg(), false).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(8)))

	id, created, err := s.EnsureRelease(context.Background(), Release{DistroID: 3, Version: "10"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), id)
	assert.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureReleaseLosesInsertRace(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id FROM releases").
		WithArgs(int64(3), "10").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO releases").
		WithArgs(int64(3), "10", pgxmock.AnyArg(), false).
		WillReturnError(uniqueViolationErr())
	mock.ExpectQuery("SELECT id FROM releases").
		WithArgs(int64(3), "10").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))

	id, created, err := s.EnsureRelease(context.Background(), Release{DistroID: 3, Version: "10"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDownloadInserts(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	dl := Download{
		ReleaseID:    7,
		Architecture: "amd64",
		ISOURL:       "https://mirror.example.org/10/distro-10-amd64.iso",
		Size:         "1.2G",
	}

	mock.ExpectQuery("SELECT id, COALESCE").
		WithArgs(dl.ReleaseID, dl.Architecture).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO downloads").
		WithArgs(dl.ReleaseID, dl.Architecture, dl.ISOURL, dl.TorrentURL, dl.Size).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	res, err := s.UpsertDownload(context.Background(), dl)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDownloadFillsHollowColumns(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	dl := Download{
		ReleaseID:    7,
		Architecture: "amd64",
		ISOURL:       "https://mirror.example.org/10/distro-10-amd64.iso",
		TorrentURL:   "https://mirror.example.org/10/distro-10-amd64.iso.torrent",
	}

	mock.ExpectQuery("SELECT id, COALESCE").
		WithArgs(dl.ReleaseID, dl.Architecture).
		WillReturnRows(pgxmock.NewRows([]string{"id", "iso_url", "torrent_url"}).
			AddRow(int64(5), "https://cdn.example.org/placeholder.iso", ""))
	mock.ExpectExec("UPDATE downloads").
		WithArgs(dl.ISOURL, dl.TorrentURL, int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	res, err := s.UpsertDownload(context.Background(), dl)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, res.Updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDownloadKeepsRealLinks(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	dl := Download{
		ReleaseID:    7,
		Architecture: "amd64",
		ISOURL:       "https://other-mirror.example.org/distro-10.iso",
	}

	mock.ExpectQuery("SELECT id, COALESCE").
		WithArgs(dl.ReleaseID, dl.Architecture).
		WillReturnRows(pgxmock.NewRows([]string{"id", "iso_url", "torrent_url"}).
			AddRow(int64(5), "https://mirror.example.org/10/distro-10-amd64.iso", ""))

	res, err := s.UpsertDownload(context.Background(), dl)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.False(t, res.Updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDownloadLosesInsertRace(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	dl := Download{ReleaseID: 7, Architecture: "amd64", ISOURL: "https://m.example.org/x.iso"}

	mock.ExpectQuery("SELECT id, COALESCE").
		WithArgs(dl.ReleaseID, dl.Architecture).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO downloads").
		WithArgs(dl.ReleaseID, dl.Architecture, dl.ISOURL, dl.TorrentURL, dl.Size).
		WillReturnError(uniqueViolationErr())

	res, err := s.UpsertDownload(context.Background(), dl)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.False(t, res.Updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteVersions(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT DISTINCT r.version_number").
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"version_number"}).
			AddRow("10").
			AddRow("9.1"))

	got, err := s.CompleteVersions(context.Background(), int64(3))
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"10": {}, "9.1": {}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHollow(t *testing.T) {
	t.Parallel()
	assert.True(t, Hollow(""))
	assert.True(t, Hollow("https://cdn.example.org/PLACEHOLDER.iso"))
	assert.False(t, Hollow("https://mirror.example.org/distro-10.iso"))
}
