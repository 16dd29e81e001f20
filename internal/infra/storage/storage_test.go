package storage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStorageRoundTrip(t *testing.T) {
	store := NewMemoryStorage()
	data := []byte("%PDF-1.4 staged")

	require.NoError(t, store.Put(context.Background(), "staging/abc.pdf", data, "application/pdf"))
	data[0] = 'X'

	reader, err := store.Get(context.Background(), "staging/abc.pdf")
	require.NoError(t, err)
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4 staged", string(got))
	require.Equal(t, 1, store.Len())

	require.NoError(t, store.Delete(context.Background(), "staging/abc.pdf"))
	require.Zero(t, store.Len())
	_, err = store.Get(context.Background(), "staging/abc.pdf")
	require.Error(t, err)
}

func TestSanitizeEndpoint(t *testing.T) {
	require.Equal(t, "acct.r2.cloudflarestorage.com", sanitizeEndpoint("https://acct.r2.cloudflarestorage.com/bucket"))
	require.Equal(t, "localhost:9000", sanitizeEndpoint(" http://localhost:9000 "))
	require.Equal(t, "", sanitizeEndpoint(""))
}
