package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() TargetSpec {
	return TargetSpec{
		Slug:           "sample",
		Name:           "Sample Linux",
		RootURLs:       []string{"https://archive.test/releases/"},
		VersionPattern: `^(\d+(\.\d+)?)/?$`,
	}
}

func TestNewTarget(t *testing.T) {
	tgt, err := NewTarget(validSpec())
	require.NoError(t, err)
	assert.Equal(t, "sample", tgt.Slug)
	assert.Equal(t, "sample", tgt.ShortName)
	assert.Equal(t, defaultSubfolderSuffixes, tgt.SubfolderSuffixes)
	assert.NotNil(t, tgt.VersionPattern)
	assert.Nil(t, tgt.ArtifactPattern)
}

func TestNewTargetValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TargetSpec)
	}{
		{"missing slug", func(s *TargetSpec) { s.Slug = "" }},
		{"missing roots", func(s *TargetSpec) { s.RootURLs = nil }},
		{"missing version pattern", func(s *TargetSpec) { s.VersionPattern = "" }},
		{"bad version pattern", func(s *TargetSpec) { s.VersionPattern = `([` }},
		{"bad artifact pattern", func(s *TargetSpec) { s.ArtifactPattern = `([` }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			_, err := NewTarget(spec)
			assert.Error(t, err)
		})
	}
}

func TestTargetCanonical(t *testing.T) {
	spec := validSpec()
	spec.Aliases = map[string]string{"current": "10"}
	tgt, err := NewTarget(spec)
	require.NoError(t, err)

	got, ok := tgt.Canonical("9.1")
	assert.True(t, ok)
	assert.Equal(t, "9.1", got)

	got, ok = tgt.Canonical("Current")
	assert.True(t, ok)
	assert.Equal(t, "10", got)

	_, ok = tgt.Canonical("latest")
	assert.False(t, ok)

	_, ok = tgt.Canonical("")
	assert.False(t, ok)
}

func TestTargetCanonicalEmptyAliasDrops(t *testing.T) {
	spec := validSpec()
	spec.Aliases = map[string]string{"latest": "", "testing": ""}
	tgt, err := NewTarget(spec)
	require.NoError(t, err)

	ver, ok := tgt.Canonical("latest")
	assert.False(t, ok)
	assert.Empty(t, ver)

	ver, ok = tgt.Canonical("testing")
	assert.False(t, ok)
	assert.Empty(t, ver)
}

func TestTargetIsLTS(t *testing.T) {
	spec := validSpec()
	spec.LTSVersions = []string{"9.1"}
	tgt, err := NewTarget(spec)
	require.NoError(t, err)

	assert.True(t, tgt.IsLTS("9.1"))
	assert.False(t, tgt.IsLTS("10"))
}
