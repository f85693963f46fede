package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/company-scraper/internal/scraper"
)

func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		gotName  string
		gotBody  string
		gotQuery string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotName = r.URL.Query().Get("name")
		gotQuery = r.URL.Path
		gotBody = string(body)
		mu.Unlock()
		fmt.Fprintln(w, `{"name": "outputs/output_1.xlsx", "bucket": "test-bucket"}`)
	})

	store := newTestStore(t, handler, Config{Bucket: "test-bucket", Prefix: "/outputs/"})
	uri, err := store.PutObject(context.Background(), "output_1.xlsx", "application/octet-stream", bytes.NewReader([]byte("xlsx-bytes")))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/outputs/output_1.xlsx", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "outputs/output_1.xlsx", gotName)
	require.True(t, strings.Contains(gotQuery, "/b/test-bucket/o"))
	require.Contains(t, gotBody, "xlsx-bytes")
}

func TestOpenObjectMissing(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	store := newTestStore(t, handler, Config{Bucket: "test-bucket"})

	_, err := store.OpenObject(context.Background(), "output_1.xlsx")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	store := &BlobStore{bucket: "b"}
	name, err := store.objectName("/output_1.xlsx")
	require.NoError(t, err)
	require.Equal(t, "output_1.xlsx", name)

	store.prefix = "jobs"
	name, err = store.objectName("output_1.xlsx")
	require.NoError(t, err)
	require.Equal(t, "jobs/output_1.xlsx", name)

	_, err = store.objectName("  ")
	require.Error(t, err)
}
