package item

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeReadme(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoader_DropsDuplicatesEmptiesAndExisting(t *testing.T) {
	dir := t.TempDir()

	writeReadme(t, dir, "foo_bar_master_README.md", "# Foo Bar\n\nSome real content here.")
	writeReadme(t, dir, "baz_qux_main_README.md", "# Foo Bar\n\nSome real content here.") // identical bytes
	writeReadme(t, dir, "tiny_repo_master_README.md", "hi")                               // too short
	writeReadme(t, dir, "skip_me_master_README.md", "# Skip Me\n\nAlready indexed content.")

	var skipID string
	{
		it, ok := New("skip/me", []byte("# Skip Me\n\nAlready indexed content."))
		require.True(t, ok)
		skipID = it.ID
	}

	loader := NewLoader(dir, 4, func(id string) bool { return id == skipID })

	items, failed, err := loader.LoadChunk([]string{
		"foo_bar_master_README.md",
		"baz_qux_main_README.md",
		"tiny_repo_master_README.md",
		"skip_me_master_README.md",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, failed, "the too-short file should count as a load failure")
	assert.Len(t, items, 1, "duplicate bytes collapse to one item, and the pre-indexed item is skipped")
	assert.Equal(t, "foo/bar", items[0].Repo)
}

func TestLoader_SkipsUnparseableFilenames(t *testing.T) {
	dir := t.TempDir()
	writeReadme(t, dir, "not_a_valid_filename_develop_readme", "some content that is long enough")

	loader := NewLoader(dir, 2, nil)
	items, failed, err := loader.LoadChunk([]string{"not_a_valid_filename_develop_readme"})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, failed)
}
