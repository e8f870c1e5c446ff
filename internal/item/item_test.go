package item

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDFromHash_Deterministic(t *testing.T) {
	hash := ContentHash("hello world")
	a := UUIDFromHash(hash)
	b := UUIDFromHash(hash)
	assert.Equal(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, a, parsed.String())
}

func TestUUIDFromHash_DistinctContent(t *testing.T) {
	a := UUIDFromHash(ContentHash("alpha"))
	b := UUIDFromHash(ContentHash("beta"))
	assert.NotEqual(t, a, b)
}

func TestNew_RejectsShortContent(t *testing.T) {
	_, ok := New("foo/bar", []byte("short"))
	assert.False(t, ok)
}

func TestNew_RejectsEmptyAfterTrim(t *testing.T) {
	_, ok := New("foo/bar", []byte("   \n\t  "))
	assert.False(t, ok)
}

func TestNew_TruncatesLongContent(t *testing.T) {
	long := strings.Repeat("a", MaxContentLen+500)
	it, ok := New("foo/bar", []byte(long))
	require.True(t, ok)
	assert.Len(t, it.Content, MaxContentLen)
	// The hash is computed on the trimmed-but-untruncated content.
	assert.Equal(t, ContentHash(long), it.ContentHash)
}

func TestNew_IdenticalContentCollapsesToSameID(t *testing.T) {
	content := []byte("# Same Readme\n\nIdentical bytes across two repos.")
	a, ok := New("foo/bar", content)
	require.True(t, ok)
	b, ok := New("baz/qux", content)
	require.True(t, ok)
	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.Repo, b.Repo)
}
