package utils

import (
	"bytes"
	"context"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/avatars/a.png", PublicURL("https://cdn.example.com/", "/avatars/a.png"))
	assert.Equal(t, "https://cdn.example.com/x", PublicURL("https://cdn.example.com", "x"))
}

func TestNewR2StoreRequiresBucket(t *testing.T) {
	_, err := NewR2Store(context.Background(), R2Config{AccountID: "acct"})
	require.Error(t, err)
}

func TestNewR2StoreDefaultsCDN(t *testing.T) {
	store, err := NewR2Store(context.Background(), R2Config{
		AccountID:       "acct",
		AccessKeyID:     "id",
		AccessKeySecret: "secret",
		Bucket:          "avatars",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://acct.r2.cloudflarestorage.com/avatars", store.cdnBaseURL)
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.Timeout)
	assert.NotNil(t, c.Transport)
}

func multipartFile(t *testing.T, field, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := multipart.NewReader(&buf, w.Boundary())
	form, err := r.ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File[field][0]
}

func TestLocalStoreUploadFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://localhost:5200/uploads")
	require.NoError(t, err)

	fh := multipartFile(t, "avatar", "a.png", []byte("png-bytes"))
	url, err := store.UploadFile(context.Background(), fh, "avatars/agent-1.png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5200/uploads/avatars/agent-1.png", url)

	got, err := os.ReadFile(filepath.Join(dir, "avatars", "agent-1.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(got))
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost/uploads")
	require.NoError(t, err)
	fh := multipartFile(t, "avatar", "a.png", []byte("x"))
	_, err = store.UploadFile(context.Background(), fh, "../escape.png")
	assert.Error(t, err)
}
