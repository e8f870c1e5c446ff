package readme

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RecoversOwnerRepo(t *testing.T) {
	cases := []struct {
		name   string
		owner  string
		repo   string
		branch string
		file   string
	}{
		{"foo_bar_master_README.md", "foo", "bar", "master", "README.md"},
		{"foo_bar_main_readme.txt", "foo", "bar", "main", "readme.txt"},
		{"some_org_long_repo_name_main_README.markdown", "some", "org_long_repo_name", "main", "README.markdown"},
		{"foo_bar_default_readme", "foo", "bar", "default", "readme"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f, err := Parse(c.name)
			require.NoError(t, err)
			assert.Equal(t, c.owner, f.Owner)
			assert.Equal(t, c.repo, f.Repo)
			assert.Equal(t, c.branch, f.Branch)
			assert.Equal(t, c.file, f.Filename)

			rebuilt := BuildName(f.Owner, f.Repo, f.Branch, f.Filename)
			assert.Equal(t, c.name, rebuilt)
		})
	}
}

func TestParse_NoBranchToken(t *testing.T) {
	_, err := Parse("foo_bar_develop_README.md")
	assert.ErrorIs(t, err, ErrNoBranchToken)
}

func TestParse_TooLong(t *testing.T) {
	name := strings.Repeat("a", MaxFilenameLen+1)
	_, err := Parse(name)
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestContainsBranchToken(t *testing.T) {
	assert.True(t, ContainsBranchToken("main_fork"))
	assert.True(t, ContainsBranchToken("master"))
	assert.False(t, ContainsBranchToken("ordinary_repo"))
}

func TestSidecar_ResolvesAmbiguousFilename(t *testing.T) {
	dir := t.TempDir()
	sidecarPath := dir + "/.meta.jsonl"
	require.NoError(t, UseSidecar(sidecarPath))
	defer UseSidecar("")

	name := BuildName("foo", "docs_main", "master", "README.md")
	require.NoError(t, RecordMeta(Meta{File: name, Owner: "foo", Repo: "docs_main", Branch: "master"}))

	f, err := Parse(name)
	require.NoError(t, err)
	assert.Equal(t, "foo", f.Owner)
	assert.Equal(t, "docs_main", f.Repo)
	assert.Equal(t, "master", f.Branch)
	assert.Equal(t, "README.md", f.Filename)
}

func TestRepoKey(t *testing.T) {
	assert.Equal(t, "foo_bar", RepoKey("foo", "bar"))
}

func TestListSuccessFiles_SkipsDotfilesAndDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/foo_bar_master_README.md", []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(dir+"/baz_qux_main_README.md", []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(dir+"/.meta.jsonl", []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(dir+"/.fetch-cache.db", []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(dir+"/.errors", 0o755))

	names, err := ListSuccessFiles(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo_bar_master_README.md", "baz_qux_main_README.md"}, names)
}
