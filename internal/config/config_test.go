package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
db:
  dsn: postgres://localhost/distindex
targets:
  - slug: sample
    name: Sample Linux
    root_urls:
      - https://archive.test/releases/
    version_pattern: '^(\d+(\.\d+)?)/?$'
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Crawl.Parallelism)
	assert.Equal(t, 12, cfg.Crawl.FolderVisitCap)
	assert.Equal(t, 5, cfg.Crawl.MaxNewReleases)
	assert.Equal(t, 20*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, 750*time.Millisecond, cfg.CrawlDelay())
	assert.False(t, cfg.Headless.Enabled)
	assert.False(t, cfg.Crawl.SkipUnparsedFolders)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, int32(4), cfg.DB.MaxConns)

	require.Len(t, cfg.Targets, 1)
	targets, err := cfg.CompiledTargets()
	require.NoError(t, err)
	assert.Equal(t, "sample", targets[0].Slug)
}

func TestLoadTargetOverrides(t *testing.T) {
	path := writeConfig(t, `
db:
  dsn: postgres://localhost/distindex
crawl:
  parallelism: 4
  delay_ms: 100
  skip_unparsed_folders: true
targets:
  - slug: sample
    short_name: smpl
    root_urls:
      - https://archive.test/releases/
      - https://mirror.test/releases/
    version_pattern: '^(\d+)/?$'
    artifact_pattern: '(?i)\.img\.xz$'
    subfolder_suffixes:
      - iso/
    aliases:
      current: "10"
    lts_versions:
      - "9"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Crawl.Parallelism)
	assert.Equal(t, 100*time.Millisecond, cfg.CrawlDelay())
	assert.True(t, cfg.Crawl.SkipUnparsedFolders)

	targets, err := cfg.CompiledTargets()
	require.NoError(t, err)
	tgt := targets[0]
	assert.Equal(t, "smpl", tgt.ShortName)
	assert.Len(t, tgt.RootURLs, 2)
	assert.Equal(t, []string{"iso/"}, tgt.SubfolderSuffixes)
	assert.NotNil(t, tgt.ArtifactPattern)
	assert.True(t, tgt.IsLTS("9"))

	ver, ok := tgt.Canonical("current")
	assert.True(t, ok)
	assert.Equal(t, "10", ver)
}

func TestLoadRequiresDSN(t *testing.T) {
	path := writeConfig(t, `
crawl:
  parallelism: 1
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db.dsn")
}

func TestLoadRejectsBadTargetPattern(t *testing.T) {
	path := writeConfig(t, `
db:
  dsn: postgres://localhost/distindex
targets:
  - slug: broken
    root_urls:
      - https://archive.test/
    version_pattern: '(['
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "targets[0]")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
