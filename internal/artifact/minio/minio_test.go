package minio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etymdef/internal/domain"
)

var _ domain.ArtifactStore = (*Store)(nil)

func TestKeyPrefix(t *testing.T) {
	s := NewStore(nil, "bucket", "runs/2024/")
	assert.Equal(t, "runs/2024/words_embed.mat", s.key("words_embed.mat"))
	assert.Equal(t, "model.json", NewStore(nil, "bucket", "").key("model.json"))
}

func TestNew_RequiresEndpointAndBucket(t *testing.T) {
	_, err := New(Config{Bucket: "b"})
	assert.Error(t, err)
	_, err = New(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

// TestStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestStore_Integration(t *testing.T) {
	ctx := context.Background()
	store, err := New(Config{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "test-etymdef",
		Prefix:    "it/",
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := store.client.ListBuckets(pingCtx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	exists, err := store.client.BucketExists(ctx, store.bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, store.client.MakeBucket(ctx, store.bucket, minio.MakeBucketOptions{}))
	}

	key := "missing-" + t.Name()
	ok, err := store.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)

	boom := errors.New("boom")
	err = store.Store(ctx, "failed.bin", func(w io.Writer) error { return boom })
	require.ErrorIs(t, err, boom)
	ok, err = store.Has(ctx, "failed.bin")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Store(ctx, "model.json", func(w io.Writer) error {
		_, err := io.WriteString(w, `{"ok":true}`)
		return err
	}))
	rc, err := store.Load(ctx, "model.json")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, `{"ok":true}`, string(data))

	_ = store.client.RemoveObject(ctx, store.bucket, store.key("model.json"), minio.RemoveObjectOptions{})
}
