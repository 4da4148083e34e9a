package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func scratchWithArtifact(t *testing.T, s *Store, content string) string {
	t.Helper()

	scratch, err := s.NewScratch()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(scratch, "llama.gguf"), []byte(content), 0o644))
	require.NoError(t, WriteMeta(scratch, &Meta{
		Artifact:    "llama.gguf",
		SizeBytes:   int64(len(content)),
		NumParts:    1,
		AssembledAt: time.Now().UTC(),
	}))

	return scratch
}

func TestPromoteMakesEntryVisible(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.False(t, s.Exists("abc"))

	scratch := scratchWithArtifact(t, s, "weights")
	entry, err := s.Promote("abc", scratch)
	require.NoError(t, err)

	require.True(t, s.Exists("abc"))
	require.Equal(t, "llama.gguf", entry.Meta.Artifact)

	got, err := os.ReadFile(entry.ModelPath())
	require.NoError(t, err)
	require.Equal(t, "weights", string(got))

	// Scratch was renamed away, not copied.
	_, err = os.Stat(scratch)
	require.True(t, os.IsNotExist(err))
}

func TestPromoteRejectsExistingKey(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Promote("abc", scratchWithArtifact(t, s, "one"))
	require.NoError(t, err)

	_, err = s.Promote("abc", scratchWithArtifact(t, s, "two"))
	require.ErrorIs(t, err, ErrKeyExists)
}

func TestPromoteRequiresMeta(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	scratch, err := s.NewScratch()
	require.NoError(t, err)

	_, err = s.Promote("abc", scratch)
	require.Error(t, err)
	require.False(t, s.Exists("abc"))
}

func TestEntryMissingKey(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Entry("nope")
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = s.ModelPath("nope")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRemove(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Promote("abc", scratchWithArtifact(t, s, "w"))
	require.NoError(t, err)

	require.NoError(t, s.Remove("abc"))
	require.False(t, s.Exists("abc"))
	require.ErrorIs(t, s.Remove("abc"), ErrKeyNotFound)
}

func TestDownloadDirRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	dir, err := s.DownloadDir("abc")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-aa"), []byte("x"), 0o644))
	require.NoError(t, s.RemoveDownloads("abc"))

	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}
