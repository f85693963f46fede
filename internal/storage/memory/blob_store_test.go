package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-scraper/internal/scraper"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	payload := []byte("content")

	uri, err := store.PutObject(ctx, "output_1.xlsx", "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://output_1.xlsx", uri)

	payload[0] = 'C'
	rc, err := store.OpenObject(ctx, "output_1.xlsx")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "content", string(got))
}

func TestBlobStoreMissing(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().OpenObject(context.Background(), "missing.xlsx")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}
