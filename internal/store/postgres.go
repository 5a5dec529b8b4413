package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tottag/controller/internal/reassembly"
	"tottag/controller/internal/sqlcgen"
)

// Queries is the minimal DB interface the archive needs.
//
// *sqlcgen.Queries satisfies this.
type Queries interface {
	InsertTagDownload(ctx context.Context, arg sqlcgen.InsertTagDownloadParams) error
	InsertTagLogEntry(ctx context.Context, arg sqlcgen.InsertTagLogEntryParams) error
}

// TxBeginner starts the transaction an archive write runs in.
//
// *db.Pool satisfies this.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGArchive stores downloads in tag_downloads with one tag_log_entries row
// per entry, all in one transaction.
type PGArchive struct {
	db     TxBeginner
	withTx func(tx pgx.Tx) Queries
	now    func() time.Time
	newID  func() string
}

func NewPGArchive(db TxBeginner, q *sqlcgen.Queries) *PGArchive {
	a := &PGArchive{db: db, now: time.Now, newID: uuid.NewString}
	if q != nil {
		a.withTx = func(tx pgx.Tx) Queries { return q.WithTx(tx) }
	}
	return a
}

func (a *PGArchive) Name() string { return "postgres" }

// Save ignores directory; the location returned is the download row id.
func (a *PGArchive) Save(ctx context.Context, dl reassembly.Download, _ string) (string, error) {
	if a == nil || a.db == nil || a.withTx == nil {
		return "", fmt.Errorf("postgres archive not configured")
	}

	cfg, err := json.Marshal(dl.Configuration)
	if err != nil {
		return "", fmt.Errorf("encode configuration: %w", err)
	}

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin archive transaction: %w", err)
	}
	// No-op once committed.
	defer func() { _ = tx.Rollback(ctx) }()
	q := a.withTx(tx)

	id := a.newID()
	if err := q.InsertTagDownload(ctx, sqlcgen.InsertTagDownloadParams{
		ID:             id,
		Source:         dl.Source,
		Label:          dl.Label,
		StartTime:      time.Unix(int64(dl.Configuration.StartTime), 0).UTC(),
		EndTime:        time.Unix(int64(dl.Configuration.EndTime), 0).UTC(),
		DailyStartSecs: int32(dl.Configuration.DailyStartTime),
		DailyEndSecs:   int32(dl.Configuration.DailyEndTime),
		Configuration:  cfg,
		ByteCount:      int32(dl.Bytes),
		EntryCount:     int32(len(dl.Entries)),
		DownloadedAt:   a.now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("insert download: %w", err)
	}

	for i, e := range dl.Entries {
		de := documentEntry(e)
		payload, err := json.Marshal(de)
		if err != nil {
			return "", fmt.Errorf("encode entry %d: %w", i, err)
		}
		if err := q.InsertTagLogEntry(ctx, sqlcgen.InsertTagLogEntryParams{
			DownloadID: id,
			Seq:        int32(i),
			LoggedAt:   de.Time,
			Payload:    payload,
		}); err != nil {
			return "", fmt.Errorf("insert entry %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit archive transaction: %w", err)
	}
	return "tag_downloads/" + id, nil
}
