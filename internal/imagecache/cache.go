// Package imagecache implements the TTL + size-bounded image cache:
// it resolves a models.ImageData union to a local file path,
// downloading remote images through a single process-wide HTTP client
// and materializing them as temp files, with a bounded map and
// background eviction.
package imagecache

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kennygrant/sanitize"

	"notifyd/models"
)

const (
	// CacheTTL is the cache entry lifetime.
	CacheTTL = time.Hour
	// MaxEntries is the forced-eviction cap.
	MaxEntries = 100
	// MaxImageSize is the Content-Length pre-check ceiling.
	MaxImageSize = 10 * 1024 * 1024
	// MinImageBytes is the "too small" floor.
	MinImageBytes = 8

	httpTotalTimeout   = 30 * time.Second
	httpConnectTimeout = 10 * time.Second
	userAgent          = "notifyd/1.0"
)

type entry struct {
	path     string
	cachedAt time.Time
}

// Cache is the concurrent, content-addressed (by URL string) image
// cache. One Cache is shared process-wide: initialized once by the
// Manager and never re-assigned.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	dir     string
	client  *http.Client
	watcher *fsnotify.Watcher
	now     func() time.Time
}

// New creates a Cache that materializes downloaded/embedded images
// under dir (created if absent). A best-effort fsnotify watcher on dir
// proactively drops cache entries whose backing file is externally
// removed, ahead of the lazy existence check on the next resolve.
func New(dir string) (*Cache, error) {
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "notifyd-images-*")
		if err != nil {
			return nil, models.NewResourceError("create image cache directory", err)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, models.NewResourceError("create image cache directory", err)
	}
	c := &Cache{
		entries: make(map[string]*entry),
		dir:     dir,
		client: &http.Client{
			Timeout: httpTotalTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: httpConnectTimeout}).DialContext,
			},
		},
		now: time.Now,
	}
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(dir); err == nil {
			c.watcher = w
			go c.watchRemovals()
		} else {
			_ = w.Close()
		}
	}
	return c, nil
}

func (c *Cache) watchRemovals() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c.mu.Lock()
			for url, e := range c.entries {
				if e.path == ev.Name {
					delete(c.entries, url)
				}
			}
			c.mu.Unlock()
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Resolve maps an ImageData union to a local file, downloading and
// caching remote URLs.
func (c *Cache) Resolve(ctx context.Context, data models.ImageData) (*models.ResolvedImage, error) {
	switch data.Kind {
	case models.ImageFile:
		return c.resolveFile(data.Path)
	case models.ImageURL:
		return c.resolveURL(ctx, data.URL)
	case models.ImageEmbedded:
		return c.resolveEmbedded(data.EmbeddedBytes, data.EmbeddedFormat)
	case models.ImageSystemIcon:
		return nil, nil
	default:
		return nil, nil
	}
}

func (c *Cache) resolveFile(path string) (*models.ResolvedImage, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, models.NewResourceError("image file does not exist: "+path, err)
	}
	return &models.ResolvedImage{Path: path, IsTemp: false, OriginalURL: "file://" + path}, nil
}

func (c *Cache) resolveURL(ctx context.Context, rawURL string) (*models.ResolvedImage, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, models.NewValidationError("invalid image url", err)
	}
	switch u.Scheme {
	case "file":
		return c.resolveFile(u.Path)
	case "http", "https":
		return c.download(ctx, rawURL)
	default:
		return nil, nil
	}
}

var supportedEmbeddedFormats = map[string]string{
	"png":  "png",
	"jpeg": "jpg",
	"gif":  "gif",
	"webp": "webp",
}

func (c *Cache) resolveEmbedded(data []byte, format string) (*models.ResolvedImage, error) {
	if len(data) == 0 {
		return nil, models.NewValidationError("embedded image data is empty", nil)
	}
	ext, ok := supportedEmbeddedFormats[strings.ToLower(format)]
	if !ok {
		return nil, models.NewValidationError("unsupported embedded image format: "+format, nil)
	}
	path, err := c.writeTempFile(data, ext)
	if err != nil {
		return nil, err
	}
	return &models.ResolvedImage{Path: path, IsTemp: true, OriginalURL: "embedded://data"}, nil
}

// download fetches rawURL through the shared client, enforcing the
// size limits, and caches the materialized file.
func (c *Cache) download(ctx context.Context, rawURL string) (*models.ResolvedImage, error) {
	c.evictStale()

	c.mu.Lock()
	if e, ok := c.entries[rawURL]; ok {
		if _, err := os.Stat(e.path); err == nil {
			resolved := &models.ResolvedImage{Path: e.path, IsTemp: true, OriginalURL: rawURL}
			c.mu.Unlock()
			return resolved, nil
		}
		delete(c.entries, rawURL)
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, models.NewResourceError("build image request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, models.NewResourceError("download image: "+rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, models.NewResourceError("non-2xx downloading image: "+resp.Status, nil)
	}
	if resp.ContentLength > MaxImageSize {
		return nil, models.NewResourceError("image too large", nil)
	}

	ext := determineExtension(rawURL, resp.Header.Get("Content-Type"))

	limited := io.LimitReader(resp.Body, MaxImageSize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, models.NewResourceError("read image body", err)
	}
	if int64(len(body)) > MaxImageSize {
		return nil, models.NewResourceError("image too large", nil)
	}
	if len(body) < MinImageBytes {
		return nil, models.NewResourceError("downloaded image is too small", nil)
	}

	path, err := c.writeTempFile(body, ext)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[rawURL] = &entry{path: path, cachedAt: c.now()}
	c.mu.Unlock()

	return &models.ResolvedImage{Path: path, IsTemp: true, OriginalURL: rawURL}, nil
}

func (c *Cache) writeTempFile(data []byte, ext string) (string, error) {
	name := "img-" + sanitize.BaseName(time.Now().Format("20060102T150405.000000000")) + "." + ext
	f, err := os.CreateTemp(c.dir, "tmp-*-"+name)
	if err != nil {
		return "", models.NewResourceError("create temp file", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", models.NewResourceError("write temp file", err)
	}
	if err := f.Close(); err != nil {
		return "", models.NewResourceError("close temp file", err)
	}
	return f.Name(), nil
}

// evictStale removes TTL-expired entries first, then
// oldest-by-cached_at while still over MaxEntries. Every eviction
// unlinks the referenced temp file.
func (c *Cache) evictStale() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, e := range c.entries {
		if now.Sub(e.cachedAt) >= CacheTTL {
			_ = os.Remove(e.path)
			delete(c.entries, url)
		}
	}
	if len(c.entries) <= MaxEntries {
		return
	}
	type keyed struct {
		url string
		at  time.Time
	}
	ordered := make([]keyed, 0, len(c.entries))
	for url, e := range c.entries {
		ordered = append(ordered, keyed{url, e.cachedAt})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].at.Before(ordered[j].at) })
	for i := 0; len(c.entries) > MaxEntries && i < len(ordered); i++ {
		e := c.entries[ordered[i].url]
		if e == nil {
			continue
		}
		_ = os.Remove(e.path)
		delete(c.entries, ordered[i].url)
	}
}

// CleanupImage removes one temp file best-effort, used when a single
// media attachment fails to resolve but delivery continues without
// it.
func CleanupImage(img *models.ResolvedImage) {
	if img == nil || !img.IsTemp {
		return
	}
	_ = os.Remove(img.Path)
}

// CleanupAll unlinks every cached temp file and clears the map; run
// once at shutdown.
func (c *Cache) CleanupAll() {
	c.mu.Lock()
	for _, e := range c.entries {
		_ = os.Remove(e.path)
	}
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	if c.watcher != nil {
		_ = c.watcher.Close()
	}
}

// Len reports the current cache entry count (test/diagnostic use).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// determineExtension picks the temp-file extension: URL
// path segment suffix first (<=4 chars, lowercased), then Content-Type
// table, default png.
func determineExtension(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		seg := u.Path
		if idx := strings.LastIndex(seg, "/"); idx >= 0 {
			seg = seg[idx+1:]
		}
		if dot := strings.LastIndex(seg, "."); dot >= 0 {
			ext := strings.ToLower(seg[dot+1:])
			if ext != "" && len(ext) <= 4 {
				return ext
			}
		}
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "image/png"):
		return "png"
	case strings.Contains(ct, "image/jpeg"), strings.Contains(ct, "image/jpg"):
		return "jpg"
	case strings.Contains(ct, "image/gif"):
		return "gif"
	case strings.Contains(ct, "image/webp"):
		return "webp"
	case strings.Contains(ct, "image/svg"):
		return "svg"
	case strings.Contains(ct, "image/x-icon"), strings.Contains(ct, "image/vnd.microsoft.icon"):
		return "ico"
	case strings.Contains(ct, "image/bmp"):
		return "bmp"
	case strings.Contains(ct, "image/tiff"):
		return "tiff"
	default:
		return "png"
	}
}
