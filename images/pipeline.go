package images

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "image/gif"
	_ "image/png"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/image/draw"

	"stayscraper/config"
	"stayscraper/metrics"
)

const seenCacheSize = 4096

// Stats summarizes one DownloadSet run.
type Stats struct {
	Downloaded int
	Failed     int
	Skipped    int
}

// Uploader mirrors what the pipeline needs from remote storage.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
}

// Pipeline downloads, validates and stores property photos. Safe for
// use from a single orchestrator goroutine; the seen-cache carries
// across items so re-queued properties do not re-download their set.
type Pipeline struct {
	cfg      *config.ImagesConfig
	seen     *lru.Cache[string, struct{}]
	uploader Uploader // nil when S3 is not configured
}

func NewPipeline(cfg *config.ImagesConfig, uploader Uploader) *Pipeline {
	seen, _ := lru.New[string, struct{}](seenCacheSize)
	return &Pipeline{cfg: cfg, seen: seen, uploader: uploader}
}

// DownloadSet fetches the candidate URLs through the supplied client
// (which must carry the scrape session's cookies; the CDN rejects
// anonymous requests) and stores validated JPEGs under
// hotel_{id}/{lang}/. Per-image failures are logged and skipped.
// Returns the stored paths in download order.
func (p *Pipeline) DownloadSet(ctx context.Context, urls []string, itemID int64, language string, client *http.Client) ([]string, Stats) {
	var stats Stats

	if !p.cfg.Enabled || len(urls) == 0 {
		return nil, stats
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	candidates := FilterCandidates(urls, p.cfg.MaxCount)
	dir := filepath.Join(p.cfg.BasePath, fmt.Sprintf("hotel_%d", itemID), language)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("[images] cannot create %s: %v", dir, err)
		stats.Failed = len(candidates)
		return nil, stats
	}

	var paths []string
	for _, u := range candidates {
		if ctx.Err() != nil {
			break
		}

		key := dedupeKey(u)
		if p.seen.Contains(key) {
			stats.Skipped++
			metrics.ImagesSkipped.Inc()
			continue
		}

		data, err := p.fetchOne(ctx, client, u)
		if err != nil {
			log.Printf("[images] %s: %v", u, err)
			stats.Failed++
			continue
		}

		encoded, err := p.process(data)
		if err != nil {
			if err == errTooSmall {
				stats.Skipped++
				metrics.ImagesSkipped.Inc()
			} else {
				log.Printf("[images] %s: %v", u, err)
				stats.Failed++
			}
			continue
		}

		name := fmt.Sprintf("img_%04d_%s.jpg", len(paths)+1, contentHash(encoded))
		full := filepath.Join(dir, name)
		if err := os.WriteFile(full, encoded, 0644); err != nil {
			log.Printf("[images] write %s: %v", full, err)
			stats.Failed++
			continue
		}

		p.seen.Add(key, struct{}{})
		paths = append(paths, full)
		stats.Downloaded++
		metrics.ImagesDownloaded.Inc()

		if p.uploader != nil {
			relKey := filepath.ToSlash(filepath.Join(fmt.Sprintf("hotel_%d", itemID), language, name))
			if err := p.uploader.Upload(ctx, relKey, bytes.NewReader(encoded), "image/jpeg"); err != nil {
				log.Printf("[images] upload %s: %v", relKey, err)
			}
		}
	}

	return paths, stats
}

var errTooSmall = fmt.Errorf("image below minimum dimensions")

func (p *Pipeline) fetchOne(ctx context.Context, client *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "https://www.booking.com/")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 20<<20))
}

// process decodes, rejects images below the inclusive minimum size,
// downscales anything above the maximum, and re-encodes as JPEG.
func (p *Pipeline) process(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < p.cfg.MinWidth || h < p.cfg.MinHeight {
		return nil, errTooSmall
	}

	if w > p.cfg.MaxWidth || h > p.cfg.MaxHeight {
		img = downscale(img, p.cfg.MaxWidth, p.cfg.MaxHeight)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// downscale fits the image inside maxW x maxH keeping aspect ratio.
func downscale(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}
