package sqlcgen

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const schema = `
CREATE TABLE IF NOT EXISTS tag_downloads (
  id              uuid PRIMARY KEY,
  source          text NOT NULL,
  label           text NOT NULL,
  start_time      timestamptz NOT NULL,
  end_time        timestamptz NOT NULL,
  daily_start_s   integer NOT NULL DEFAULT 0,
  daily_end_s     integer NOT NULL DEFAULT 0,
  configuration   jsonb NOT NULL,
  byte_count      integer NOT NULL,
  entry_count     integer NOT NULL,
  downloaded_at   timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tag_downloads_label_idx ON tag_downloads (label, downloaded_at DESC);
CREATE TABLE IF NOT EXISTS tag_log_entries (
  download_id     uuid NOT NULL REFERENCES tag_downloads (id) ON DELETE CASCADE,
  seq             integer NOT NULL,
  logged_at       timestamptz NOT NULL,
  payload         jsonb NOT NULL,
  PRIMARY KEY (download_id, seq)
);
`

func (q *Queries) EnsureSchema(ctx context.Context) error {
	_, err := q.db.Exec(ctx, schema)
	return err
}

const insertTagDownload = `-- name: InsertTagDownload :exec
INSERT INTO tag_downloads (
  id,
  source,
  label,
  start_time,
  end_time,
  daily_start_s,
  daily_end_s,
  configuration,
  byte_count,
  entry_count,
  downloaded_at
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11)
`

type InsertTagDownloadParams struct {
	ID             string
	Source         string
	Label          string
	StartTime      time.Time
	EndTime        time.Time
	DailyStartSecs int32
	DailyEndSecs   int32
	Configuration  []byte
	ByteCount      int32
	EntryCount     int32
	DownloadedAt   time.Time
}

func (q *Queries) InsertTagDownload(ctx context.Context, arg InsertTagDownloadParams) error {
	_, err := q.db.Exec(ctx, insertTagDownload,
		arg.ID,
		arg.Source,
		arg.Label,
		arg.StartTime,
		arg.EndTime,
		arg.DailyStartSecs,
		arg.DailyEndSecs,
		arg.Configuration,
		arg.ByteCount,
		arg.EntryCount,
		arg.DownloadedAt,
	)
	return err
}

const insertTagLogEntry = `-- name: InsertTagLogEntry :exec
INSERT INTO tag_log_entries (download_id, seq, logged_at, payload)
VALUES ($1::uuid, $2, $3, $4::jsonb)
`

type InsertTagLogEntryParams struct {
	DownloadID string
	Seq        int32
	LoggedAt   time.Time
	Payload    []byte
}

func (q *Queries) InsertTagLogEntry(ctx context.Context, arg InsertTagLogEntryParams) error {
	_, err := q.db.Exec(ctx, insertTagLogEntry, arg.DownloadID, arg.Seq, arg.LoggedAt, arg.Payload)
	return err
}

const getTagDownload = `-- name: GetTagDownload :one
SELECT id::text,
       source,
       label,
       start_time,
       end_time,
       daily_start_s,
       daily_end_s,
       configuration,
       byte_count,
       entry_count,
       downloaded_at
FROM tag_downloads
WHERE id = $1::uuid
`

func (q *Queries) GetTagDownload(ctx context.Context, id string) (TagDownload, error) {
	row := q.db.QueryRow(ctx, getTagDownload, id)
	var i TagDownload
	err := row.Scan(
		&i.ID,
		&i.Source,
		&i.Label,
		&i.StartTime,
		&i.EndTime,
		&i.DailyStartSecs,
		&i.DailyEndSecs,
		&i.Configuration,
		&i.ByteCount,
		&i.EntryCount,
		&i.DownloadedAt,
	)
	return i, err
}

const listTagDownloads = `-- name: ListTagDownloads :many
SELECT id::text,
       source,
       label,
       start_time,
       end_time,
       daily_start_s,
       daily_end_s,
       configuration,
       byte_count,
       entry_count,
       downloaded_at
FROM tag_downloads
ORDER BY downloaded_at DESC
LIMIT $1
`

func (q *Queries) ListTagDownloads(ctx context.Context, limit int32) ([]TagDownload, error) {
	rows, err := q.db.Query(ctx, listTagDownloads, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TagDownload
	for rows.Next() {
		var i TagDownload
		if err := rows.Scan(
			&i.ID,
			&i.Source,
			&i.Label,
			&i.StartTime,
			&i.EndTime,
			&i.DailyStartSecs,
			&i.DailyEndSecs,
			&i.Configuration,
			&i.ByteCount,
			&i.EntryCount,
			&i.DownloadedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listTagLogEntries = `-- name: ListTagLogEntries :many
SELECT download_id::text, seq, logged_at, payload
FROM tag_log_entries
WHERE download_id = $1::uuid
ORDER BY seq
`

func (q *Queries) ListTagLogEntries(ctx context.Context, downloadID string) ([]TagLogEntry, error) {
	rows, err := q.db.Query(ctx, listTagLogEntries, downloadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TagLogEntry
	for rows.Next() {
		var i TagLogEntry
		if err := rows.Scan(&i.DownloadID, &i.Seq, &i.LoggedAt, &i.Payload); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
