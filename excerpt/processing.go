package excerpt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/vod-excerpt/chat"
	"github.com/onnwee/vod-excerpt/chzzkapi"
	"github.com/onnwee/vod-excerpt/config"
	"github.com/onnwee/vod-excerpt/db"
	"github.com/onnwee/vod-excerpt/telemetry"
	"github.com/onnwee/vod-excerpt/transcribe"
	"github.com/onnwee/vod-excerpt/transcript"
)

// Result holds the artifacts of one completed excerpt run.
type Result struct {
	MediaPath   string
	ChatLogPath string
	MergedPath  string
	Events      []chat.Event
	ChatEvents  int
	ChatDropped int
	Title       string
	Channel     string
}

// Pipeline runs the full excerpt flow for one request: resolve the manifest,
// plan the segment cover, then fetch media and collect chat concurrently, and
// finally merge chat with optional speech into the text artifacts.
type Pipeline struct {
	Client      *chzzkapi.Client
	Fetcher     *Fetcher
	Transcriber transcribe.Transcriber // nil disables the speech track
	Cfg         config.Config
}

// in-flight cancellation registry, keyed by request id
var (
	activeMu      = &sync.Mutex{}
	activeCancels = map[string]context.CancelFunc{}
)

// CancelExcerpt cancels an in-flight run. Returns false when the id is not
// currently processing.
func CancelExcerpt(id string) bool {
	activeMu.Lock()
	defer activeMu.Unlock()
	if c, ok := activeCancels[id]; ok {
		c()
		delete(activeCancels, id)
		return true
	}
	return false
}

func registerCancel(id string, cancel context.CancelFunc) {
	activeMu.Lock()
	activeCancels[id] = cancel
	activeMu.Unlock()
}

func unregisterCancel(id string) {
	activeMu.Lock()
	delete(activeCancels, id)
	activeMu.Unlock()
}

// Run executes the request. Media is mandatory; chat failures caused by
// missing session cookies degrade to an empty chat track.
func (p *Pipeline) Run(ctx context.Context, id, videoNo string, window TimeWindow, quality string, chatEnabled bool) (*Result, error) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("excerpt_id", id), slog.String("component", "excerpt_process"))

	manifest, err := Resolve(ctx, p.Client, videoNo, quality)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest: %w", err)
	}
	logger.Info("manifest resolved",
		slog.String("title", manifest.Title),
		slog.String("quality", manifest.Quality),
		slog.Int("segments", len(manifest.Segments)),
		slog.Duration("total", manifest.TotalDuration()))

	plan, err := Plan(manifest, window)
	if err != nil {
		return nil, err
	}
	logger.Info("segment cover planned",
		slog.Int("first", plan.First), slog.Int("last", plan.Last),
		slog.Duration("leading_trim", plan.LeadingTrim),
		slog.Duration("trailing_trim", plan.TrailingTrim))

	base := transcript.SanitizeFilename(manifest.Title)
	if base == "excerpt" {
		base = "excerpt-" + videoNo
	}
	// window bounds in the name keep repeated excerpts of one VOD distinct
	stem := fmt.Sprintf("%s_%ds-%ds", base,
		int(window.Start.Seconds()), int(window.End.Seconds()))
	mediaPath := filepath.Join(p.Cfg.DataDir, stem+".mp4")

	var events []chat.Event
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var ferr error
		d := telemetry.TimeFunc(telemetry.FetchDuration, func() {
			ferr = p.Fetcher.Fetch(gctx, plan, window, manifest.InitURL, p.Cfg.DataDir, mediaPath)
		})
		if ferr != nil {
			return fmt.Errorf("fetch media: %w", ferr)
		}
		logger.Info("media fetched", slog.String("path", mediaPath), slog.Duration("fetch_duration", d))
		return nil
	})
	if chatEnabled {
		g.Go(func() error {
			collector := &chat.Collector{
				Client:         p.Client,
				VideoNo:        videoNo,
				BroadcastStart: manifest.BroadcastStart,
				MaxPages:       p.Cfg.ChatMaxPages,
			}
			var cerr error
			d := telemetry.TimeFunc(telemetry.ChatDuration, func() {
				events, cerr = collector.Collect(gctx, window.Start, window.End)
			})
			if cerr != nil {
				return fmt.Errorf("collect chat: %w", cerr)
			}
			logger.Info("chat collected", slog.Int("events", len(events)), slog.Duration("chat_duration", d))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// never leave a half-written artifact behind
		if rmErr := os.Remove(mediaPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove partial media", slog.Any("err", rmErr))
		}
		return nil, err
	}

	result := &Result{
		MediaPath:  mediaPath,
		Events:     events,
		ChatEvents: len(events),
		Title:      manifest.Title,
		Channel:    manifest.Channel,
	}

	var speech []transcribe.Segment
	if p.Transcriber != nil {
		speech, err = p.Transcriber.Transcribe(ctx, mediaPath)
		if err != nil {
			// speech is best-effort; the excerpt still succeeds without it
			logger.Warn("transcription failed, continuing without speech", slog.Any("err", err))
			speech = nil
		}
	}

	if len(events) > 0 {
		chatLogPath := filepath.Join(p.Cfg.DataDir, stem+".chat.log")
		if err := transcript.WriteChatLogFile(chatLogPath, events, window.Start); err != nil {
			return nil, fmt.Errorf("write chat log: %w", err)
		}
		result.ChatLogPath = chatLogPath
	}
	if len(events) > 0 || len(speech) > 0 {
		entries, dropped := transcript.Merge(events, speech, window.Start, window.Duration())
		telemetry.AddChatDropped(dropped)
		result.ChatDropped = dropped
		if dropped > 0 {
			logger.Warn("entries outside media duration dropped", slog.Int("dropped", dropped))
		}
		mergedPath := filepath.Join(p.Cfg.DataDir, stem+".merged.log")
		if err := transcript.WriteMergedFile(mergedPath, entries); err != nil {
			return nil, fmt.Errorf("write merged transcript: %w", err)
		}
		result.MergedPath = mergedPath
	}
	return result, nil
}

// StartProcessingJob runs a loop claiming pending excerpt requests at an interval.
func StartProcessingJob(ctx context.Context, dbc *sql.DB, cfg config.Config) {
	interval := 15 * time.Second
	if s := os.Getenv("EXCERPT_PROCESS_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			interval = d
		}
	}
	slog.Info("excerpt processing job starting", slog.Duration("interval", interval))
	// Kick an immediate run so we don't wait a full interval after boot.
	if err := processOnce(ctx, dbc, cfg); err != nil {
		slog.Warn("process once", slog.Any("err", err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("excerpt processing job stopped")
			return
		case <-ticker.C:
			if err := processOnce(ctx, dbc, cfg); err != nil {
				slog.Warn("process once", slog.Any("err", err))
			}
		}
	}
}

// processOnce claims a single pending request and runs it to completion.
func processOnce(ctx context.Context, dbc *sql.DB, cfg config.Config) error {
	_ = db.SetKV(ctx, dbc, "job_excerpt_process_last", time.Now().UTC().Format(time.RFC3339Nano))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}

	queueDepth, err := db.CountPending(ctx, dbc)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	telemetry.SetQueueDepth(queueDepth)

	rec, err := db.ClaimNextPending(ctx, dbc)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("no excerpts ready for processing", slog.String("component", "excerpt_process"))
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim pending: %w", err)
	}

	logger := slog.Default().With(slog.String("excerpt_id", rec.ID), slog.String("component", "excerpt_process"))
	logger.Info("processing candidate selected",
		slog.String("video_no", rec.VideoNo),
		slog.Int64("window_start", rec.WindowStartSeconds),
		slog.Int64("window_end", rec.WindowEndSeconds),
		slog.Int("queue_depth", queueDepth))
	telemetry.ProcessingCycles.Inc()
	telemetry.ExcerptsStarted.Inc()

	runCtx, cancel := context.WithCancel(ctx)
	registerCancel(rec.ID, cancel)
	defer func() {
		unregisterCancel(rec.ID)
		cancel()
	}()

	pipeline := newPipeline(cfg)
	window := TimeWindow{
		Start: time.Duration(rec.WindowStartSeconds) * time.Second,
		End:   time.Duration(rec.WindowEndSeconds) * time.Second,
	}
	quality := rec.Quality
	if quality == "" {
		quality = cfg.DefaultQuality
	}

	procStart := time.Now()
	result, err := pipeline.Run(runCtx, rec.ID, rec.VideoNo, window, quality, rec.ChatEnabled && cfg.ChatEnabled)
	totalDur := time.Since(procStart)
	telemetry.TotalProcessDuration.Observe(totalDur.Seconds())
	updateMovingAvg(ctx, dbc, "avg_excerpt_ms", float64(totalDur.Milliseconds()))

	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			logger.Info("excerpt canceled", slog.Duration("total_duration", totalDur))
			_, _ = db.MarkCanceled(ctx, dbc, rec.ID)
			return nil
		}
		retryable := Retryable(err) && rec.Retries+1 < fetchAttempts(cfg)
		logger.Error("excerpt failed",
			slog.Any("err", err),
			slog.Bool("retryable", retryable),
			slog.Duration("total_duration", totalDur))
		telemetry.ExcerptsFailed.Inc()
		if mfErr := db.MarkFailed(ctx, dbc, rec.ID, err.Error(), retryable, retryCooldown()); mfErr != nil {
			logger.Warn("failed to record failure", slog.Any("err", mfErr))
		}
		return nil
	}

	if result.Title != "" || result.Channel != "" {
		if err := db.UpdateExcerptMeta(ctx, dbc, rec.ID, result.Title, result.Channel); err != nil {
			logger.Warn("failed to record metadata", slog.Any("err", err))
		}
	}
	if err := db.MarkDone(ctx, dbc, rec.ID, result.MediaPath, result.ChatLogPath, result.MergedPath,
		result.ChatEvents, result.ChatDropped); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	if len(result.Events) > 0 {
		// persistence is best-effort; the rendered artifacts already exist
		if err := db.InsertChatEvents(ctx, dbc, rec.ID, result.Events, window.Start); err != nil {
			logger.Warn("failed to persist chat events", slog.Any("err", err))
		}
	}
	telemetry.ExcerptsSucceeded.Inc()
	logger.Info("excerpt complete",
		slog.String("media_path", result.MediaPath),
		slog.Int("chat_events", result.ChatEvents),
		slog.Int("chat_dropped", result.ChatDropped),
		slog.Duration("total_duration", totalDur),
		slog.Int("queue_depth", queueDepth-1))
	telemetry.SetQueueDepth(queueDepth - 1)
	return nil
}

func newPipeline(cfg config.Config) *Pipeline {
	cookies := chzzkapi.CookieHeader(cfg.NaverCookies)
	client := &chzzkapi.Client{
		Cookies:     cookies,
		MaxAttempts: cfg.FetchAttempts,
		BaseBackoff: cfg.FetchBackoff,
	}
	p := &Pipeline{
		Client: client,
		Fetcher: &Fetcher{
			Cookies:     cookies,
			Workers:     cfg.SegmentWorkers,
			MaxAttempts: cfg.FetchAttempts,
			BaseBackoff: cfg.FetchBackoff,
		},
		Cfg: cfg,
	}
	if cfg.WhisperBin != "" {
		p.Transcriber = &transcribe.WhisperCLI{Bin: cfg.WhisperBin, ModelPath: cfg.WhisperModel}
	}
	return p
}

func fetchAttempts(cfg config.Config) int {
	if cfg.FetchAttempts > 0 {
		return cfg.FetchAttempts
	}
	return 3
}

func retryCooldown() time.Duration {
	cooldown := 60 * time.Second
	if s := os.Getenv("PROCESSING_RETRY_COOLDOWN"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			cooldown = d
		}
	}
	return cooldown
}

// updateMovingAvg maintains a simple exponential moving average (EMA) stored in kv.
// alpha = 0.2 (new contributes 20%). Values stored as integer milliseconds.
func updateMovingAvg(ctx context.Context, dbc *sql.DB, key string, newVal float64) {
	const alpha = 0.2
	existing, err := db.GetKV(ctx, dbc, key)
	if err != nil || existing == "" {
		_ = db.SetKV(ctx, dbc, key, fmt.Sprintf("%.0f", newVal))
		return
	}
	var old float64
	if v, err := strconv.ParseFloat(existing, 64); err == nil {
		old = v
	}
	ema := alpha*newVal + (1-alpha)*old
	_ = db.SetKV(ctx, dbc, key, fmt.Sprintf("%.0f", ema))
}
