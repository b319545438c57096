package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/dgraph-io/ristretto"
	"github.com/tdewolff/minify/v2"

	"sitepipe/internal/core"
	"sitepipe/internal/metrics"
)

const jpegQuality = 82

// ImageCache memoizes optimized images by content hash for the lifetime of
// the process, so watch-triggered reruns skip unchanged images.
type ImageCache struct {
	cache *ristretto.Cache
}

// NewImageCache creates a cache bounded to maxBytes of optimized output.
func NewImageCache(maxBytes int64) (*ImageCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create image cache: %w", err)
	}
	return &ImageCache{cache: cache}, nil
}

func (c *ImageCache) get(key core.ContentHash) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.cache.Get(string(key))
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (c *ImageCache) set(key core.ContentHash, data []byte) {
	if c == nil {
		return
	}
	c.cache.Set(string(key), data, int64(len(data)))
	c.cache.Wait()
}

// Close releases the cache goroutines.
func (c *ImageCache) Close() {
	if c != nil {
		c.cache.Close()
	}
}

// ImageOptimizer recompresses PNG and JPEG files and minifies SVG files. The
// original bytes are kept whenever the optimized version is not smaller.
type ImageOptimizer struct {
	Cache    *ImageCache
	Minifier *minify.M
}

func (o *ImageOptimizer) Name() string { return "optimize-image" }

func (o *ImageOptimizer) Apply(_ context.Context, f *File) (*File, error) {
	ext := f.Ext()
	switch ext {
	case ".png", ".jpg", ".jpeg", ".svg":
	default:
		return f, nil
	}

	key := core.HashFields([]byte(o.Name()), []byte(ext), f.Data)
	if data, ok := o.Cache.get(key); ok {
		metrics.ImageCacheTotal.WithLabelValues("hit").Inc()
		return withData(f, data), nil
	}
	metrics.ImageCacheTotal.WithLabelValues("miss").Inc()

	optimized, err := o.optimize(ext, f.Data)
	if err != nil {
		return nil, err
	}
	if len(optimized) >= len(f.Data) {
		optimized = f.Data
	}
	o.Cache.set(key, optimized)
	return withData(f, optimized), nil
}

func (o *ImageOptimizer) optimize(ext string, data []byte) ([]byte, error) {
	switch ext {
	case ".png":
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ".jpg", ".jpeg":
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return o.Minifier.Bytes(mediaSVG, data)
	}
}

func withData(f *File, data []byte) *File {
	out := *f
	out.Data = data
	return &out
}
