package reassembly

import (
	"encoding/binary"
	"errors"
	"testing"

	"tottag/controller/internal/codec"
	"tottag/controller/internal/faults"
)

const source = "C0:98:E5:42:00:01"

func testConfiguration(t *testing.T) codec.Configuration {
	t.Helper()
	a, _ := codec.ParseHardwareID(source)
	b, _ := codec.ParseHardwareID("C0:98:E5:42:00:02")
	c, _ := codec.ParseHardwareID("C0:98:E5:42:00:03")
	return codec.Configuration{
		StartTime:   1700000000,
		EndTime:     1700086400,
		DeviceCount: 3,
		Slots:       []codec.Slot{{ID: a, Label: "mom"}, {ID: b, Label: "kid"}, {ID: c}},
	}
}

func header(n int) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(n))
}

func configChunk(t *testing.T, cfg codec.Configuration) []byte {
	t.Helper()
	wire, err := codec.EncodeConfiguration(cfg)
	if err != nil {
		t.Fatalf("EncodeConfiguration: %v", err)
	}
	return wire[1:]
}

func feed(t *testing.T, e *Engine, chunk []byte) Progress {
	t.Helper()
	p, err := e.Feed(chunk)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	return p
}

func TestEngine_CompleteDownload(t *testing.T) {
	cfg := testConfiguration(t)
	stream, err := codec.EncodeLogStream([]codec.Record{
		{Kind: codec.KindVoltage, Timestamp: 100, Voltage: 3900},
		{Kind: codec.KindRanges, Timestamp: 100, Ranges: []codec.Range{{Peer: 0x02, DistanceMM: 1500}}},
		{Kind: codec.KindMotion, Timestamp: 101, Motion: true},
		{Kind: codec.KindRanges, Timestamp: 100, Ranges: []codec.Range{{Peer: 0x03, DistanceMM: 800}, {Peer: 0x7F, DistanceMM: 20}}},
	})
	if err != nil {
		t.Fatalf("EncodeLogStream: %v", err)
	}

	e := New()
	e.Begin(source)
	if p := feed(t, e, header(len(stream))); p.Stage != StageHeader || p.Offset != 0 || p.Total != len(stream) {
		t.Fatalf("unexpected header progress %+v", p)
	}
	if p := feed(t, e, configChunk(t, cfg)); p.Stage != StageConfiguration {
		t.Fatalf("unexpected configuration progress %+v", p)
	}
	split := 7
	if p := feed(t, e, stream[:split]); p.Offset != split {
		t.Fatalf("expected offset %d, got %+v", split, p)
	}
	if p := feed(t, e, stream[split:]); p.Offset != len(stream) {
		t.Fatalf("expected offset %d, got %+v", len(stream), p)
	}

	dl, err := e.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if e.Active() {
		t.Fatalf("engine must be idle after finalize")
	}
	if dl.Label != "mom" || dl.Source != source || dl.Bytes != len(stream) {
		t.Fatalf("unexpected download header %+v", dl)
	}
	if len(dl.Entries) != 2 || dl.Entries[0].Timestamp != 100 || dl.Entries[1].Timestamp != 101 {
		t.Fatalf("expected two entries in first-seen order, got %+v", dl.Entries)
	}

	first := dl.Entries[0]
	if first.Voltage == nil || *first.Voltage != 3900 {
		t.Fatalf("expected voltage merged into entry, got %+v", first)
	}
	want := []Ranging{
		{Peer: 0x02, Label: "kid", DistanceMM: 1500},
		{Peer: 0x03, Label: "03", DistanceMM: 800},
		{Peer: 0x7F, Label: "7F", DistanceMM: 20},
	}
	if len(first.Ranges) != len(want) {
		t.Fatalf("expected %d peers, got %+v", len(want), first.Ranges)
	}
	for i := range want {
		if first.Ranges[i] != want[i] {
			t.Fatalf("range %d: expected %+v, got %+v", i, want[i], first.Ranges[i])
		}
	}
	if m := dl.Entries[1].Motion; m == nil || !*m {
		t.Fatalf("expected motion on second entry")
	}
}

func TestEngine_TruncatedDownload(t *testing.T) {
	e := New()
	e.Begin(source)
	feed(t, e, header(1000))
	feed(t, e, configChunk(t, testConfiguration(t)))
	feed(t, e, make([]byte, 400))

	_, err := e.Finalize()
	if !errors.Is(err, faults.ErrTruncated) {
		t.Fatalf("expected truncated error, got %v", err)
	}
	if e.Active() {
		t.Fatalf("engine must be idle after truncated finalize")
	}
}

func TestEngine_EmptyAndMissingParts(t *testing.T) {
	e := New()
	e.Begin(source)
	if _, err := e.Finalize(); !errors.Is(err, faults.ErrTruncated) {
		t.Fatalf("expected truncated with no header, got %v", err)
	}

	e.Begin(source)
	feed(t, e, header(0))
	feed(t, e, configChunk(t, testConfiguration(t)))
	dl, err := e.Finalize()
	if err != nil {
		t.Fatalf("expected empty download to succeed, got %v", err)
	}
	if len(dl.Entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(dl.Entries))
	}
}

func TestEngine_HugeHeaderDoesNotReserveDeclaredLength(t *testing.T) {
	e := New()
	e.Begin(source)

	const declared = 3783983105
	p := feed(t, e, header(declared))
	if p.Total != declared {
		t.Fatalf("expected declared total %d, got %d", declared, p.Total)
	}
	if cap(e.buf) > maxPrealloc {
		t.Fatalf("expected at most %d bytes reserved, got %d", maxPrealloc, cap(e.buf))
	}

	feed(t, e, configChunk(t, testConfiguration(t)))
	feed(t, e, make([]byte, 200))
	if _, err := e.Finalize(); !errors.Is(err, faults.ErrTruncated) {
		t.Fatalf("expected truncated, got %v", err)
	}
}

func TestEngine_MalformedSnapshotAborts(t *testing.T) {
	e := New()
	e.Begin(source)
	feed(t, e, header(10))
	if _, err := e.Feed([]byte{1, 2, 3}); !errors.Is(err, faults.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if e.Active() {
		t.Fatalf("engine must abort on malformed snapshot")
	}
	if _, err := e.Feed([]byte{1}); !errors.Is(err, faults.ErrCommunication) {
		t.Fatalf("expected error feeding an idle engine, got %v", err)
	}
}

func TestEngine_CorruptStreamIsDecodeError(t *testing.T) {
	e := New()
	e.Begin(source)
	feed(t, e, header(6))
	feed(t, e, configChunk(t, testConfiguration(t)))
	feed(t, e, []byte{0x09, 0, 0, 0, 0, 0})
	if _, err := e.Finalize(); !errors.Is(err, faults.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestMerge_LastScalarWinsAndPeerOverwrite(t *testing.T) {
	records := []codec.Record{
		{Kind: codec.KindCharging, Timestamp: 5, Charging: codec.ChargingPlugged},
		{Kind: codec.KindRanges, Timestamp: 5, Ranges: []codec.Range{{Peer: 1, DistanceMM: 10}}},
		{Kind: codec.KindCharging, Timestamp: 5, Charging: codec.ChargingCharging},
		{Kind: codec.KindRanges, Timestamp: 5, Ranges: []codec.Range{{Peer: 1, DistanceMM: 12}}},
	}
	entries := Merge(records, nil)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if *entries[0].Charging != codec.ChargingCharging {
		t.Fatalf("expected last charging value, got %v", *entries[0].Charging)
	}
	if len(entries[0].Ranges) != 1 || entries[0].Ranges[0].DistanceMM != 12 || entries[0].Ranges[0].Label != "01" {
		t.Fatalf("unexpected ranges %+v", entries[0].Ranges)
	}
}
