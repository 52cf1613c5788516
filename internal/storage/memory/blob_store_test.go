package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "pub/1.jpg", "image/jpeg", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://pub/1.jpg", uri)

	payload[0] = 'C'
	got, contentType, ok := store.Object("pub/1.jpg")
	require.True(t, ok)
	require.Equal(t, "content", string(got))
	require.Equal(t, "image/jpeg", contentType)
	require.Equal(t, []string{"pub/1.jpg"}, store.Paths())

	_, _, ok = store.Object("missing")
	require.False(t, ok)
}
