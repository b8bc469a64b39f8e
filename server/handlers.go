// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/vod-excerpt/chzzkapi"
	"github.com/onnwee/vod-excerpt/config"
	"github.com/onnwee/vod-excerpt/db"
	"github.com/onnwee/vod-excerpt/excerpt"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db  *sql.DB
	ctx context.Context
	cfg config.Config
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, dbc *sql.DB, cfg config.Config) *Handlers {
	return &Handlers{db: dbc, ctx: ctx, cfg: cfg}
}

// createRequest is the POST /excerpts body. URL may be a full video URL or a
// bare video number; start/end accept HH:MM:SS, MM:SS, or bare seconds.
type createRequest struct {
	URL     string `json:"url"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Quality string `json:"quality,omitempty"`
	Chat    *bool  `json:"chat,omitempty"`
}

type excerptView struct {
	ID          string  `json:"id"`
	VideoNo     string  `json:"video_no"`
	Title       string  `json:"title,omitempty"`
	Channel     string  `json:"channel,omitempty"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Quality     string  `json:"quality,omitempty"`
	ChatEnabled bool    `json:"chat_enabled"`
	State       string  `json:"state"`
	Error       string  `json:"error,omitempty"`
	MediaPath   string  `json:"media_path,omitempty"`
	ChatLogPath string  `json:"chat_log_path,omitempty"`
	MergedPath  string  `json:"merged_path,omitempty"`
	ChatEvents  int     `json:"chat_events"`
	ChatDropped int     `json:"chat_dropped"`
	Retries     int     `json:"retries"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   *string `json:"updated_at,omitempty"`
}

func toView(r db.ExcerptRecord) excerptView {
	v := excerptView{
		ID:          r.ID,
		VideoNo:     r.VideoNo,
		Title:       r.Title,
		Channel:     r.Channel,
		Start:       config.FormatTimecode(time.Duration(r.WindowStartSeconds) * time.Second),
		End:         config.FormatTimecode(time.Duration(r.WindowEndSeconds) * time.Second),
		Quality:     r.Quality,
		ChatEnabled: r.ChatEnabled,
		State:       r.State,
		Error:       r.Error.String,
		MediaPath:   r.MediaPath.String,
		ChatLogPath: r.ChatLogPath.String,
		MergedPath:  r.MergedPath.String,
		ChatEvents:  r.ChatEvents,
		ChatDropped: r.ChatDropped,
		Retries:     r.Retries,
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if r.UpdatedAt.Valid {
		s := r.UpdatedAt.Time.UTC().Format(time.RFC3339)
		v.UpdatedAt = &s
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("encode response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleExcerpts serves POST /excerpts (submit) and GET /excerpts (list).
func (h *Handlers) HandleExcerpts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreate(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	videoNo, err := chzzkapi.ExtractVideoNo(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unrecognized video URL: "+err.Error())
		return
	}
	start, end, err := config.ParseWindow(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chatEnabled := h.cfg.ChatEnabled
	if req.Chat != nil {
		chatEnabled = *req.Chat
	}
	quality := req.Quality
	if quality == "" {
		quality = h.cfg.DefaultQuality
	}

	rec := db.ExcerptRecord{
		ID:                 uuid.New().String(),
		VideoNo:            videoNo,
		WindowStartSeconds: int64(start.Seconds()),
		WindowEndSeconds:   int64(end.Seconds()),
		Quality:            quality,
		ChatEnabled:        chatEnabled,
	}
	if err := db.InsertExcerpt(r.Context(), h.db, rec); err != nil {
		slog.Error("insert excerpt", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue request")
		return
	}
	slog.Info("excerpt request enqueued",
		slog.String("excerpt_id", rec.ID),
		slog.String("video_no", videoNo),
		slog.String("window", start.String()+"-"+end.String()),
		slog.String("component", "http"))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": rec.ID, "state": db.StatePending})
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 50)
	recs, err := db.ListExcerpts(r.Context(), h.db, limit)
	if err != nil {
		slog.Error("list excerpts", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	views := make([]excerptView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, toView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleExcerptsDispatcher routes /excerpts/{id} and /excerpts/{id}/cancel.
func (h *Handlers) HandleExcerptsDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/excerpts/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleGet(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleCancel(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := db.GetExcerpt(r.Context(), h.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "unknown excerpt id")
		return
	}
	if err != nil {
		slog.Error("get excerpt", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, toView(rec))
}

func (h *Handlers) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	// stop the in-flight run first so the worker observes cancellation
	interrupted := excerpt.CancelExcerpt(id)
	updated, err := db.MarkCanceled(r.Context(), h.db, id)
	if err != nil {
		slog.Error("cancel excerpt", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	if !updated && !interrupted {
		writeError(w, http.StatusConflict, "excerpt is not pending or processing")
		return
	}
	slog.Info("excerpt canceled",
		slog.String("excerpt_id", id),
		slog.Bool("interrupted", interrupted),
		slog.String("component", "http"))
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "state": db.StateCanceled, "interrupted": interrupted})
}
