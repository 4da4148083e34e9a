package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestSum(t *testing.T) {
	digest, err := Sum(strings.NewReader("hello world"))
	require.NoError(t, err)
	require.Equal(t, helloDigest, digest)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	digest, err := File(path)
	require.NoError(t, err)
	require.Equal(t, helloDigest, digest)
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
