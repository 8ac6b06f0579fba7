package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/storage/gcs"
)

func newTestArchive(t *testing.T, handler http.Handler, cfg gcs.Config) *gcs.Archive {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	archive, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return archive
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}

func TestPutObject(t *testing.T) {
	payload := []byte(`{"product_name":"Gulliver"}`)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/records-bucket/o")
		assert.Equal(t, "archive/2024-05-01/row-2.json", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), string(payload))
		assert.Contains(t, string(body), "application/json")

		fmt.Fprintln(w, `{"name": "archive/2024-05-01/row-2.json", "bucket": "records-bucket"}`)
	})

	archive := newTestArchive(t, handler, gcs.Config{Bucket: "records-bucket", Prefix: "/archive/"})
	uri, err := archive.PutObject(context.Background(), "2024-05-01/row-2.json", "application/json", payload)
	require.NoError(t, err)
	assert.Equal(t, "gs://records-bucket/archive/2024-05-01/row-2.json", uri)
}

func TestPutObjectErrors(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	archive := newTestArchive(t, handler, gcs.Config{Bucket: "records-bucket"})

	_, err := archive.PutObject(context.Background(), "row.json", "application/json", []byte("{}"))
	assert.Error(t, err)

	_, err = archive.PutObject(context.Background(), "  ", "application/json", []byte("{}"))
	assert.Error(t, err)
}
