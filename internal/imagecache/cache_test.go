package imagecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyd/models"
)

func TestResolveFileMissing(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), models.ImageFromFile("/nope/does-not-exist.png"))
	require.Error(t, err)
}

func TestResolveFilePresent(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(p, []byte("pngdata"), 0o644))
	c, err := New(t.TempDir())
	require.NoError(t, err)
	img, err := c.Resolve(context.Background(), models.ImageFromFile(p))
	require.NoError(t, err)
	assert.False(t, img.IsTemp)
	assert.Equal(t, p, img.Path)
}

func TestResolveEmbeddedRejectsEmptyAndUnsupported(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), models.ImageEmbeddedBytes(nil, "png"))
	require.Error(t, err)
	_, err = c.Resolve(context.Background(), models.ImageEmbeddedBytes([]byte("x"), "svg"))
	require.Error(t, err)
}

func TestResolveEmbeddedWritesTempFile(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	img, err := c.Resolve(context.Background(), models.ImageEmbeddedBytes([]byte("abcdefgh"), "png"))
	require.NoError(t, err)
	assert.True(t, img.IsTemp)
	assert.Equal(t, "embedded://data", img.OriginalURL)
	_, statErr := os.Stat(img.Path)
	assert.NoError(t, statErr)
}

func TestResolveSystemIconReturnsNil(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	img, err := c.Resolve(context.Background(), models.ImageFromSystemIcon("mail"))
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestDownloadRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	c, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), models.ImageFromURL(srv.URL+"/missing.png"))
	require.Error(t, err)
}

func TestDownloadRejectsTooSmallBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tiny"))
	}))
	defer srv.Close()
	c, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), models.ImageFromURL(srv.URL+"/x.png"))
	require.Error(t, err)
}

func TestDownloadCachesAndEvictsOnTTL(t *testing.T) {
	body := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "16")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c, err := New(t.TempDir())
	require.NoError(t, err)
	fakeNow := time.Now()
	c.now = func() time.Time { return fakeNow }

	u := srv.URL + "/img.bin"
	first, err := c.Resolve(context.Background(), models.ImageFromURL(u))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	second, err := c.Resolve(context.Background(), models.ImageFromURL(u))
	require.NoError(t, err)
	assert.Equal(t, first.Path, second.Path, "second resolve should hit cache")

	fakeNow = fakeNow.Add(CacheTTL + time.Second)
	third, err := c.Resolve(context.Background(), models.ImageFromURL(u))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	_, statErr := os.Stat(first.Path)
	assert.Error(t, statErr, "stale temp file should have been unlinked")
	_, statErr = os.Stat(third.Path)
	assert.NoError(t, statErr)
}

func TestDetermineExtensionPrecedence(t *testing.T) {
	assert.Equal(t, "jpg", determineExtension("http://x/a.JPG", "image/png"))
	assert.Equal(t, "gif", determineExtension("http://x/a", "image/gif"))
	assert.Equal(t, "png", determineExtension("http://x/a", "application/octet-stream"))
}
