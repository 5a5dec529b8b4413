package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tottag/controller/internal/sqlcgen"
)

// DownloadQueries is the minimal DB interface for browsing archived downloads.
//
// *sqlcgen.Queries satisfies this.
type DownloadQueries interface {
	ListTagDownloads(ctx context.Context, limit int32) ([]sqlcgen.TagDownload, error)
	GetTagDownload(ctx context.Context, id string) (sqlcgen.TagDownload, error)
	ListTagLogEntries(ctx context.Context, downloadID string) ([]sqlcgen.TagLogEntry, error)
}

const (
	defaultDownloadLimit = 50
	maxDownloadLimit     = 500
)

type download struct {
	ID             string          `json:"id"`
	Source         string          `json:"source"`
	Label          string          `json:"label"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	DailyStartSecs int32           `json:"daily_start_seconds"`
	DailyEndSecs   int32           `json:"daily_end_seconds"`
	Configuration  json.RawMessage `json:"configuration"`
	Bytes          int32           `json:"bytes"`
	EntryCount     int32           `json:"entry_count"`
	DownloadedAt   time.Time       `json:"downloaded_at"`
}

type downloadDetail struct {
	download
	Entries []json.RawMessage `json:"entries"`
}

func toDownload(d sqlcgen.TagDownload) download {
	return download{
		ID:             d.ID,
		Source:         d.Source,
		Label:          d.Label,
		StartTime:      d.StartTime,
		EndTime:        d.EndTime,
		DailyStartSecs: d.DailyStartSecs,
		DailyEndSecs:   d.DailyEndSecs,
		Configuration:  json.RawMessage(d.Configuration),
		Bytes:          d.ByteCount,
		EntryCount:     d.EntryCount,
		DownloadedAt:   d.DownloadedAt,
	}
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02"
	}
	return false
}

func (h *Handler) ensureDownloads(w http.ResponseWriter) bool {
	if h.downloads == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	if !h.ensureDownloads(w) {
		return
	}

	limit := defaultDownloadLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxDownloadLimit {
			h.writeError(w, http.StatusBadRequest, "validation_error", "limit must be between 1 and 500", nil)
			return
		}
		limit = v
	}

	rows, err := h.downloads.ListTagDownloads(r.Context(), int32(limit))
	if err != nil {
		h.log.Error().Err(err).Msg("list downloads failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list downloads", nil)
		return
	}

	resp := make([]download, 0, len(rows))
	for _, d := range rows {
		resp = append(resp, toDownload(d))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	if !h.ensureDownloads(w) {
		return
	}

	id := chi.URLParam(r, "id")
	d, err := h.downloads.GetTagDownload(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			h.writeError(w, http.StatusNotFound, "not_found", "download not found", nil)
		case isInvalidUUID(err):
			h.writeError(w, http.StatusBadRequest, "validation_error", "invalid download id", nil)
		default:
			h.log.Error().Err(err).Str("download_id", id).Msg("get download failed")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to get download", nil)
		}
		return
	}

	rows, err := h.downloads.ListTagLogEntries(r.Context(), d.ID)
	if err != nil {
		h.log.Error().Err(err).Str("download_id", id).Msg("list log entries failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list log entries", nil)
		return
	}

	resp := downloadDetail{download: toDownload(d), Entries: make([]json.RawMessage, 0, len(rows))}
	for _, e := range rows {
		resp.Entries = append(resp.Entries, json.RawMessage(e.Payload))
	}
	h.writeJSON(w, http.StatusOK, resp)
}
