// Package assets is the image acquisition subsystem: concurrent per-product
// fetch, JPEG normalization, idempotent S3 upload, and thumbnail generation.
package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/nickheyer/militaria-crawler/internal/detail"
	"github.com/nickheyer/militaria-crawler/internal/objectstore"
	"github.com/nickheyer/militaria-crawler/internal/utils"
)

const (
	thumbnailMaxDimension = 300
	thumbnailQuality      = 80
	imageQuality          = 85
)

// imageFetchUserAgents is rotated per image fetch attempt (§4.7) so a single
// product's gallery doesn't hammer a site from one fingerprint.
var imageFetchUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

func randomImageUserAgent() string {
	return imageFetchUserAgents[rand.Intn(len(imageFetchUserAgents))]
}

// Subsystem implements detail.ImageSubsystem.
type Subsystem struct {
	store          *objectstore.Store
	httpClient     *http.Client
	defaultWorkers int

	mu           sync.Mutex
	badImageURLs map[string]bool
	badListPath  string
}

// New builds a Subsystem backed by store, persisting its known-bad-image
// learning set at badListPath.
func New(store *objectstore.Store, defaultWorkers int, badListPath string) *Subsystem {
	if defaultWorkers <= 0 {
		defaultWorkers = 4
	}
	s := &Subsystem{
		store:          store,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		defaultWorkers: defaultWorkers,
		badImageURLs:   make(map[string]bool),
		badListPath:    badListPath,
	}
	s.loadBadList()
	return s
}

func (s *Subsystem) loadBadList() {
	if s.badListPath == "" {
		return
	}
	data, err := os.ReadFile(s.badListPath)
	if err != nil {
		return
	}
	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return
	}
	for _, u := range urls {
		s.badImageURLs[u] = true
	}
}

func (s *Subsystem) persistBadList() {
	if s.badListPath == "" {
		return
	}
	s.mu.Lock()
	urls := make([]string, 0, len(s.badImageURLs))
	for u := range s.badImageURLs {
		urls = append(urls, u)
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(urls, "", "  ")
	if err != nil {
		return
	}
	os.WriteFile(s.badListPath, data, 0644)
}

// MarkBad records url as a known-bad image, skipped on every future pass.
func (s *Subsystem) MarkBad(url string) {
	s.mu.Lock()
	s.badImageURLs[url] = true
	s.mu.Unlock()
	s.persistBadList()
}

func (s *Subsystem) isBad(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.badImageURLs[url]
}

type imageOutcome struct {
	index int
	url   string
	err   error
}

// ProcessProductImages fetches, normalizes, and uploads every image for one
// product, skipping work already done (idempotent keys) and bounding
// concurrency to workerCount (lower for sensitive sites).
func (s *Subsystem) ProcessProductImages(ctx context.Context, site, productID string, imageURLs []string, sensitive bool) (detail.ImageResult, error) {
	if len(imageURLs) == 0 {
		return detail.ImageResult{}, nil
	}

	if s.isBad(imageURLs[0]) {
		return detail.ImageResult{RequiresAttention: true}, nil
	}

	workers := s.defaultWorkers
	if sensitive {
		workers = 2
	}
	if workers > len(imageURLs) {
		workers = len(imageURLs)
	}

	pool := utils.NewWorkerPool(workers)
	defer pool.Stop()

	results := make([]imageOutcome, len(imageURLs))
	var firstSuccessBody []byte
	var firstSuccessMu sync.Mutex

	for i, rawURL := range imageURLs {
		i, rawURL := i, rawURL
		pool.Submit(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			key := objectstore.ImageKey(site, productID, i)

			if s.store != nil && s.store.Exists(ctx, key) {
				results[i] = imageOutcome{index: i, url: s.store.URL(key)}
				return nil
			}

			politenessSleep(ctx)

			body, err := s.fetch(ctx, rawURL)
			if err != nil {
				results[i] = imageOutcome{index: i, err: err}
				return err
			}

			normalized, err := utils.NormalizeImage(body, imageQuality)
			if err != nil {
				results[i] = imageOutcome{index: i, err: err}
				return err
			}

			firstSuccessMu.Lock()
			if firstSuccessBody == nil {
				firstSuccessBody = normalized
			}
			firstSuccessMu.Unlock()

			if s.store == nil {
				results[i] = imageOutcome{index: i, err: fmt.Errorf("no object store configured")}
				return nil
			}

			url, err := s.store.PutJPEG(ctx, key, normalized)
			if err != nil {
				results[i] = imageOutcome{index: i, err: err}
				return err
			}
			results[i] = imageOutcome{index: i, url: url}
			return nil
		})
	}
	pool.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })

	var s3URLs []string
	for _, r := range results {
		if r.url != "" {
			s3URLs = append(s3URLs, r.url)
		}
	}

	res := detail.ImageResult{S3ImageURLs: s3URLs}
	if len(s3URLs) == 0 {
		res.DownloadFailed = true
		return res, nil
	}

	if s.store != nil && firstSuccessBody != nil {
		thumb, err := utils.GenerateThumbnail(firstSuccessBody, thumbnailMaxDimension, thumbnailQuality)
		if err == nil {
			thumbKey := objectstore.ThumbnailKey(site, productID)
			if url, err := s.store.PutJPEG(ctx, thumbKey, thumb); err == nil {
				res.ThumbnailURL = url
			}
		}
	}

	return res, nil
}

func (s *Subsystem) fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", randomImageUserAgent())

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				buf := make([]byte, 0, 64*1024)
				chunk := make([]byte, 32*1024)
				for {
					n, rErr := resp.Body.Read(chunk)
					if n > 0 {
						buf = append(buf, chunk[:n]...)
					}
					if rErr != nil {
						break
					}
				}
				return buf, nil
			}
			lastErr = fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
	return nil, fmt.Errorf("fetch image failed after retries: %w", lastErr)
}

// politenessSleep waits uniformly in [1.0, 2.5]s, the shared throttle
// between per-product image fetches and product-detail fetches.
func politenessSleep(ctx context.Context) {
	d := time.Duration(1000+rand.Intn(1500)) * time.Millisecond
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
