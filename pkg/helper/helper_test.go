package helper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestUTCNow(t *testing.T) {
	now := UTCNow()
	require.Equal(t, time.UTC, now.Location())
	require.Zero(t, now.Nanosecond())
}

func TestIsValidationError(t *testing.T) {
	type s struct {
		Name string `validate:"required"`
	}

	err := ValidateStruct(&s{})
	require.Error(t, err)
	require.True(t, IsValidationError(err))
	require.True(t, IsValidationError(errors.Wrap(err, "wrapped")))
	require.False(t, IsValidationError(errors.New("other")))
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "dir", "file.txt")

	require.NoError(t, WriteFile(path, []byte("data"), 0o600))

	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	// rewriting with a new mode updates the existing file's mode
	require.NoError(t, WriteFile(path, []byte("data"), 0o644))
	st, err = os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), st.Mode().Perm())
}
