package readme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkers_WriteAndPreload(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMarkers(dir)
	require.NoError(t, err)

	require.NoError(t, m.Write(NotFoundBucket(24), "foo_bar"))
	require.NoError(t, m.Write(BucketTooSmall, "baz_qux"))

	assert.True(t, m.Has("foo_bar"))
	assert.True(t, m.Has("baz_qux"))
	assert.False(t, m.Has("nope_nope"))

	// A fresh Markers over the same directory only knows about markers
	// after Preload.
	m2, err := NewMarkers(dir)
	require.NoError(t, err)
	assert.False(t, m2.Has("foo_bar"))
	require.NoError(t, m2.Preload())
	assert.True(t, m2.Has("foo_bar"))
	assert.True(t, m2.Has("baz_qux"))
}

func TestMarkers_HasOnDisk(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMarkers(dir)
	require.NoError(t, err)

	require.NoError(t, m.Write(BucketNetwork, "foo_bar"))

	assert.True(t, m.HasOnDisk(BucketNetwork, "foo_bar"))
	assert.False(t, m.HasOnDisk(BucketNetwork, "other_repo"))
	assert.False(t, m.HasOnDisk(BucketTooSmall, "foo_bar"))
}

func TestNotFoundBucket(t *testing.T) {
	assert.Equal(t, "404_3", NotFoundBucket(3))
}
