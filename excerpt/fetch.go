package excerpt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/vod-excerpt/telemetry"
)

// Fetcher downloads a planned segment cover with bounded parallelism, assembles
// the segments in index order, and trims the result to the exact window.
type Fetcher struct {
	HTTPClient  *http.Client
	Cookies     string // raw cookie header value, pre-normalized by the caller
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
	FFmpegBin   string
	FFprobeBin  string
}

func (f *Fetcher) http() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (f *Fetcher) workers() int {
	if f.Workers > 0 {
		return f.Workers
	}
	return 4
}

func (f *Fetcher) attempts() int {
	if f.MaxAttempts > 0 {
		return f.MaxAttempts
	}
	return 3
}

func (f *Fetcher) backoff() time.Duration {
	if f.BaseBackoff > 0 {
		return f.BaseBackoff
	}
	return 2 * time.Second
}

func (f *Fetcher) ffmpeg() string {
	if f.FFmpegBin != "" {
		return f.FFmpegBin
	}
	return "ffmpeg"
}

func (f *Fetcher) ffprobe() string {
	if f.FFprobeBin != "" {
		return f.FFprobeBin
	}
	return "ffprobe"
}

// Fetch retrieves all plan segments into a unique staging directory under
// stagingRoot, concatenates them in index order once every download succeeded,
// and trims to the window boundaries into destPath. The staging directory is
// removed on every exit path, including cancellation. Partial media is never
// left at destPath.
func (f *Fetcher) Fetch(ctx context.Context, plan *SegmentPlan, window TimeWindow, initURL, stagingRoot, destPath string) error {
	staging := filepath.Join(stagingRoot, "staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			slog.Warn("staging cleanup failed", slog.String("dir", staging), slog.Any("err", err))
		}
	}()

	paths, err := f.downloadSegments(ctx, plan, initURL, staging)
	if err != nil {
		return err
	}

	combined := filepath.Join(staging, "combined.m4s")
	if err := concatFiles(paths, combined); err != nil {
		return fmt.Errorf("concatenate segments: %w", err)
	}

	if err := f.trim(ctx, combined, destPath, plan.LeadingTrim, window.Duration()); err != nil {
		if rmErr := os.Remove(destPath); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("failed to remove partial output", slog.String("path", destPath), slog.Any("err", rmErr))
		}
		return err
	}
	return nil
}

// downloadSegments fetches the init segment (when present) and every plan
// segment with per-segment retries, returning the staged file paths in
// concatenation order. All failures are collected so the caller learns every
// unrecoverable index at once.
func (f *Fetcher) downloadSegments(ctx context.Context, plan *SegmentPlan, initURL, staging string) ([]string, error) {
	type job struct {
		index int // manifest segment index, for error reporting
		url   string
		path  string
	}
	jobs := make([]job, 0, len(plan.Segments)+1)
	paths := make([]string, 0, len(plan.Segments)+1)
	if initURL != "" {
		p := filepath.Join(staging, "init.mp4")
		jobs = append(jobs, job{index: -1, url: initURL, path: p})
		paths = append(paths, p)
	}
	for _, seg := range plan.Segments {
		p := filepath.Join(staging, fmt.Sprintf("seg_%06d.m4s", seg.Index))
		jobs = append(jobs, job{index: seg.Index, url: seg.URL, path: p})
		paths = append(paths, p)
	}

	var mu sync.Mutex
	var failed []int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers())
	for _, j := range jobs {
		g.Go(func() error {
			if err := f.downloadOne(gctx, j.url, j.path); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("segment download exhausted retries", slog.Int("segment", j.index), slog.Any("err", err))
				telemetry.IncSegmentFailed()
				mu.Lock()
				failed = append(failed, j.index)
				mu.Unlock()
				return nil // keep collecting; partial failure is reported as one error
			}
			telemetry.IncSegmentFetched()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		sort.Ints(failed)
		return nil, &PartialFetchError{FailedIndices: failed}
	}
	return paths, nil
}

// downloadOne fetches a single URL to path with retry + exponential backoff.
// A timeout counts as one attempt, not an immediate failure.
func (f *Fetcher) downloadOne(ctx context.Context, url, path string) error {
	var lastErr error
	for attempt := 0; attempt < f.attempts(); attempt++ {
		if attempt > 0 {
			backoff := f.backoff() * time.Duration(1<<attempt)
			backoff += time.Duration(rand.Int63n(int64(f.backoff())))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := f.downloadAttempt(ctx, url, path); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (f *Fetcher) downloadAttempt(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "vod-excerpt/1.0 (+https://github.com/onnwee/vod-excerpt)")
	req.Header.Set("Referer", "https://chzzk.naver.com/")
	if f.Cookies != "" {
		req.Header.Set("Cookie", f.Cookies)
	}
	resp, err := f.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("segment status %d", resp.StatusCode)
	}

	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// concatFiles appends the inputs in order into out.
func concatFiles(paths []string, out string) error {
	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	defer func() {
		if err := dst.Close(); err != nil {
			slog.Warn("failed to close combined file", slog.Any("err", err))
		}
	}()
	for _, p := range paths {
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, src)
		if cerr := src.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// trim stream-copies [lead, lead+length) out of the combined file. The emitted
// duration must match the window within one encoding frame; ffprobe verifies.
func (f *Fetcher) trim(ctx context.Context, combined, destPath string, lead, length time.Duration) error {
	if length <= 0 {
		return fmt.Errorf("%w: non-positive trim length %s", ErrTrim, length)
	}
	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(lead.Seconds(), 'f', 3, 64),
		"-i", combined,
		"-t", strconv.FormatFloat(length.Seconds(), 'f', 3, 64),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		"-movflags", "+faststart",
		destPath,
	}
	cmd := exec.CommandContext(ctx, f.ffmpeg(), args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg trim: %w: %s", err, tail(string(out), 500))
	}

	fi, err := os.Stat(destPath)
	if err != nil || fi.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrTrim, destPath)
	}
	if dur, err := f.probeDuration(ctx, destPath); err == nil {
		if dur <= 0 {
			return fmt.Errorf("%w: probe reports zero duration", ErrTrim)
		}
		if diff := (dur - length).Abs(); diff > time.Second {
			slog.Warn("trimmed duration drifts from window", slog.Duration("got", dur), slog.Duration("want", length))
		}
	} else {
		slog.Warn("ffprobe verification skipped", slog.Any("err", err))
	}
	return nil
}

func (f *Fetcher) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.ffprobe(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	out, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
