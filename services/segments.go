package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"notesworker/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// maxPlaylistHops bounds master → media playlist indirection.
const maxPlaylistHops = 2

// SegmentFetcher downloads HLS segments into a job workspace. All fetches of
// one FetchAll call share a single concurrency ceiling.
type SegmentFetcher struct {
	client         *http.Client
	concurrency    int64
	segmentTimeout time.Duration
	logger         zerolog.Logger
}

func NewSegmentFetcher(concurrency int, segmentTimeout time.Duration, logger zerolog.Logger) *SegmentFetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SegmentFetcher{
		client:         &http.Client{},
		concurrency:    int64(concurrency),
		segmentTimeout: segmentTimeout,
		logger:         logger.With().Str("component", "segment_fetcher").Logger(),
	}
}

// FetchAll fetches every sub-manifest of a job and returns the surviving
// segments in (manifest index, segment index) order. Sub-manifests that fail
// or yield nothing are skipped; the job fails only when nothing survives.
func (f *SegmentFetcher) FetchAll(ctx context.Context, manifestURLs []string, dir string) ([]models.SegmentDescriptor, error) {
	sem := semaphore.NewWeighted(f.concurrency)
	perManifest := make([][]models.SegmentDescriptor, len(manifestURLs))

	var wg sync.WaitGroup
	for i, manifestURL := range manifestURLs {
		wg.Add(1)
		go func(i int, manifestURL string) {
			defer wg.Done()
			segments, err := f.Fetch(ctx, sem, i, manifestURL, dir)
			if err != nil {
				f.logger.Warn().Err(err).Int("manifest_index", i).Str("manifest_url", manifestURL).
					Msg("skipping sub-manifest")
				return
			}
			if len(segments) == 0 {
				f.logger.Warn().Int("manifest_index", i).Str("manifest_url", manifestURL).
					Msg("sub-manifest yielded no segments, skipping")
				return
			}
			perManifest[i] = segments
		}(i, manifestURL)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var combined []models.SegmentDescriptor
	for _, segments := range perManifest {
		combined = append(combined, segments...)
	}
	if len(combined) == 0 {
		return nil, models.ErrNoSegmentsDownloaded
	}
	return combined, nil
}

// Fetch downloads one sub-manifest and all of its segments. Individual
// segment failures are logged and dropped. The result is sorted by the
// playlist's declared order, never by completion order.
func (f *SegmentFetcher) Fetch(ctx context.Context, sem *semaphore.Weighted, manifestIndex int, manifestURL, dir string) ([]models.SegmentDescriptor, error) {
	locations, err := f.loadSegmentList(ctx, sem, manifestURL)
	if err != nil {
		return nil, err
	}
	f.logger.Debug().Int("manifest_index", manifestIndex).Int("segments", len(locations)).
		Msg("parsed sub-manifest")

	results := make(chan models.SegmentDescriptor, len(locations))
	var wg sync.WaitGroup
	for segmentIndex, location := range locations {
		wg.Add(1)
		go func(segmentIndex int, location string) {
			defer wg.Done()
			desc := models.SegmentDescriptor{
				ManifestIndex: manifestIndex,
				SegmentIndex:  segmentIndex,
				URL:           location,
				LocalPath:     filepath.Join(dir, fmt.Sprintf("segment_%d_%d.ts", manifestIndex, segmentIndex)),
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			if err := f.download(ctx, desc.URL, desc.LocalPath); err != nil {
				f.logger.Warn().Err(err).Str("segment", desc.Key()).Str("url", desc.URL).
					Msg("segment fetch failed, dropping")
				return
			}
			results <- desc
		}(segmentIndex, location)
	}
	wg.Wait()
	close(results)

	segments := make([]models.SegmentDescriptor, 0, len(locations))
	for desc := range results {
		segments = append(segments, desc)
	}
	models.SortSegments(segments)

	if dropped := len(locations) - len(segments); dropped > 0 {
		f.logger.Warn().Int("manifest_index", manifestIndex).Int("dropped", dropped).
			Int("kept", len(segments)).Msg("sub-manifest has missing segments")
	}
	return segments, nil
}

// loadSegmentList fetches a playlist, following a master playlist to its
// best variant.
func (f *SegmentFetcher) loadSegmentList(ctx context.Context, sem *semaphore.Weighted, manifestURL string) ([]string, error) {
	current := manifestURL
	for hop := 0; hop < maxPlaylistHops; hop++ {
		base, err := url.Parse(current)
		if err != nil {
			return nil, fmt.Errorf("invalid manifest url %q: %w", current, err)
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		parsed, err := f.fetchPlaylist(ctx, base)
		sem.Release(1)
		if err != nil {
			return nil, err
		}

		if parsed.Variant == "" {
			return parsed.Segments, nil
		}
		current = parsed.Variant
	}
	return nil, fmt.Errorf("too many playlist redirections from %s", manifestURL)
}

func (f *SegmentFetcher) fetchPlaylist(ctx context.Context, base *url.URL) (parsedPlaylist, error) {
	reqCtx, cancel := f.withTimeout(ctx)
	defer cancel()

	body, err := f.get(reqCtx, base.String())
	if err != nil {
		return parsedPlaylist{}, fmt.Errorf("failed to fetch playlist: %w", err)
	}
	defer body.Close()

	return parsePlaylist(body, base)
}

func (f *SegmentFetcher) download(ctx context.Context, location, localPath string) error {
	reqCtx, cancel := f.withTimeout(ctx)
	defer cancel()

	body, err := f.get(reqCtx, location)
	if err != nil {
		return err
	}
	defer body.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		os.Remove(localPath)
		return fmt.Errorf("failed to save segment: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("failed to close segment file: %w", err)
	}
	return nil
}

func (f *SegmentFetcher) get(ctx context.Context, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, location)
	}
	return resp.Body, nil
}

func (f *SegmentFetcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.segmentTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.segmentTimeout)
}
