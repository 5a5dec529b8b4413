package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"tottag/controller/internal/codec"
	"tottag/controller/internal/reassembly"
	"tottag/controller/internal/sqlcgen"
)

func sampleDownload(t *testing.T) reassembly.Download {
	t.Helper()
	a, _ := codec.ParseHardwareID("C0:98:E5:42:00:01")
	b, _ := codec.ParseHardwareID("C0:98:E5:42:00:02")
	cfg := codec.Configuration{
		StartTime:      1709276400,
		EndTime:        1709935200,
		DailyStartTime: 7 * 3600,
		DailyEndTime:   21 * 3600,
		DeviceCount:    2,
		Slots:          []codec.Slot{{ID: a, Label: "mom"}, {ID: b, Label: "living room"}},
	}
	v := uint32(3900)
	c := codec.ChargingUnplugged
	m := true
	return reassembly.Download{
		Source:        "C0:98:E5:42:00:02",
		Label:         "living room",
		Configuration: cfg,
		Bytes:         42,
		Entries: []reassembly.Entry{
			{Timestamp: 1709280000, Voltage: &v, Ranges: []reassembly.Ranging{{Peer: 1, Label: "mom", DistanceMM: -12}}},
			{Timestamp: 1709280010, Charging: &c, Motion: &m},
		},
	}
}

func TestFileArchive_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	archive := NewFileArchive(filepath.Join(dir, "default"))
	archive.now = func() time.Time { return time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC) }

	dl := sampleDownload(t)
	target := filepath.Join(dir, "override")
	path, err := archive.Save(context.Background(), dl, target)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if want := filepath.Join(target, "living_room.json"); path != want {
		t.Fatalf("expected %s, got %s", want, path)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !doc.DownloadedAt.Equal(archive.now()) {
		t.Fatalf("unexpected download time %s", doc.DownloadedAt)
	}
	if got := doc.Entries[1].Charging; got == nil || got.Name != "Unplugged" || got.Code != 2 {
		t.Fatalf("expected charging code and name, got %+v", got)
	}
	if !reflect.DeepEqual(doc.Download(), dl) {
		t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", doc.Download(), dl)
	}

	entries, _ := os.ReadDir(target)
	if len(entries) != 1 {
		t.Fatalf("expected only the archive file to remain, got %d entries", len(entries))
	}
}

func TestFileArchive_DefaultDirectoryAndOverwrite(t *testing.T) {
	dir := t.TempDir()
	archive := NewFileArchive(dir)

	dl := sampleDownload(t)
	first, err := archive.Save(context.Background(), dl, "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	dl.Entries = dl.Entries[:1]
	second, err := archive.Save(context.Background(), dl, "")
	if err != nil {
		t.Fatalf("Save again: %v", err)
	}
	if first != second || filepath.Dir(first) != dir {
		t.Fatalf("expected the same file in the default directory, got %s and %s", first, second)
	}
	doc, err := Load(second)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Entries) != 1 {
		t.Fatalf("expected the later download to replace the file, got %d entries", len(doc.Entries))
	}
}

func TestLoad_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}

type fakeQueries struct {
	insertDownloadFn func(ctx context.Context, arg sqlcgen.InsertTagDownloadParams) error
	insertEntryFn    func(ctx context.Context, arg sqlcgen.InsertTagLogEntryParams) error
}

func (f *fakeQueries) InsertTagDownload(ctx context.Context, arg sqlcgen.InsertTagDownloadParams) error {
	if f.insertDownloadFn == nil {
		return nil
	}
	return f.insertDownloadFn(ctx, arg)
}

func (f *fakeQueries) InsertTagLogEntry(ctx context.Context, arg sqlcgen.InsertTagLogEntryParams) error {
	if f.insertEntryFn == nil {
		return nil
	}
	return f.insertEntryFn(ctx, arg)
}

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (f *fakeTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if f.committed {
		return pgx.ErrTxClosed
	}
	f.rolledBack = true
	return nil
}

type fakeDB struct {
	tx       *fakeTx
	beginErr error
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.tx, nil
}

func newTestPGArchive(t *testing.T, q *fakeQueries) (*PGArchive, *fakeTx) {
	t.Helper()
	tx := &fakeTx{}
	archive := NewPGArchive(&fakeDB{tx: tx}, nil)
	archive.withTx = func(got pgx.Tx) Queries {
		if got != tx {
			t.Fatalf("queries must run on the archive transaction")
		}
		return q
	}
	return archive, tx
}

func TestPGArchive_Save(t *testing.T) {
	var gotDownload sqlcgen.InsertTagDownloadParams
	var gotEntries []sqlcgen.InsertTagLogEntryParams
	q := &fakeQueries{
		insertDownloadFn: func(_ context.Context, arg sqlcgen.InsertTagDownloadParams) error {
			gotDownload = arg
			return nil
		},
		insertEntryFn: func(_ context.Context, arg sqlcgen.InsertTagLogEntryParams) error {
			gotEntries = append(gotEntries, arg)
			return nil
		},
	}
	archive, tx := newTestPGArchive(t, q)
	archive.newID = func() string { return "3f1c2b9a-0000-4000-8000-000000000001" }

	loc, err := archive.Save(context.Background(), sampleDownload(t), "ignored")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if loc != "tag_downloads/3f1c2b9a-0000-4000-8000-000000000001" {
		t.Fatalf("unexpected location %s", loc)
	}
	if !tx.committed || tx.rolledBack {
		t.Fatalf("expected commit without rollback, got %+v", tx)
	}
	if gotDownload.Label != "living room" || gotDownload.EntryCount != 2 || gotDownload.DailyStartSecs != 7*3600 {
		t.Fatalf("unexpected download row %+v", gotDownload)
	}
	if gotDownload.StartTime.Unix() != 1709276400 {
		t.Fatalf("unexpected start time %s", gotDownload.StartTime)
	}
	var cfg codec.Configuration
	if err := json.Unmarshal(gotDownload.Configuration, &cfg); err != nil || cfg.DeviceCount != 2 {
		t.Fatalf("expected configuration JSON, got %s (%v)", gotDownload.Configuration, err)
	}
	if len(gotEntries) != 2 || gotEntries[1].Seq != 1 || gotEntries[1].LoggedAt.Unix() != 1709280010 {
		t.Fatalf("unexpected entry rows %+v", gotEntries)
	}
}

func TestPGArchive_InsertErrorRollsBack(t *testing.T) {
	boom := errors.New("connection reset")
	entries := 0
	archive, tx := newTestPGArchive(t, &fakeQueries{
		insertEntryFn: func(context.Context, sqlcgen.InsertTagLogEntryParams) error {
			entries++
			if entries == 2 {
				return boom
			}
			return nil
		},
	})
	if _, err := archive.Save(context.Background(), sampleDownload(t), ""); !errors.Is(err, boom) {
		t.Fatalf("expected insert error, got %v", err)
	}
	if tx.committed || !tx.rolledBack {
		t.Fatalf("expected the partial download to be rolled back, got %+v", tx)
	}
}

func TestPGArchive_BeginAndCommitErrors(t *testing.T) {
	down := errors.New("pool closed")
	archive := NewPGArchive(&fakeDB{beginErr: down}, nil)
	archive.withTx = func(pgx.Tx) Queries { return &fakeQueries{} }
	if _, err := archive.Save(context.Background(), sampleDownload(t), ""); !errors.Is(err, down) {
		t.Fatalf("expected begin error, got %v", err)
	}

	lost := errors.New("commit lost")
	archive, tx := newTestPGArchive(t, &fakeQueries{})
	tx.commitErr = lost
	if _, err := archive.Save(context.Background(), sampleDownload(t), ""); !errors.Is(err, lost) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if !tx.rolledBack {
		t.Fatalf("expected rollback after a failed commit")
	}
}

func TestPGArchive_NotConfigured(t *testing.T) {
	if _, err := NewPGArchive(&fakeDB{tx: &fakeTx{}}, nil).Save(context.Background(), sampleDownload(t), ""); err == nil {
		t.Fatalf("expected error without queries")
	}
}
