package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	s := Store{Dir: filepath.Join(t.TempDir(), "cfg")}

	_, err := s.Get(SMSToken)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(" SMS ", "tok-123"))
	got, err := s.Get(SMSToken)
	require.NoError(t, err)
	require.Equal(t, "tok-123", got)

	raw, err := os.ReadFile(filepath.Join(s.Dir, fileName))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "tok-123")

	info, err := os.Stat(filepath.Join(s.Dir, fileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, s.Delete(SMSToken))
	_, err = s.Get(SMSToken)
	require.ErrorIs(t, err, ErrNotFound)
	require.Error(t, s.Put("", "x"))
}
