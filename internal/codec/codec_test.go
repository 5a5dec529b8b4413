package codec

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"tottag/controller/internal/faults"
)

func mustID(t *testing.T, s string) HardwareID {
	t.Helper()
	id, err := ParseHardwareID(s)
	if err != nil {
		t.Fatalf("ParseHardwareID(%q): %v", s, err)
	}
	return id
}

func TestHardwareID_ParseAndString(t *testing.T) {
	id := mustID(t, "c0:98:e5:42:00:2a")
	if id[0] != 0x2A || id[5] != 0xC0 {
		t.Fatalf("expected wire order with low octet first, got % X", id[:])
	}
	if id.LowByte() != 0x2A {
		t.Fatalf("expected low byte 0x2A, got 0x%02X", id.LowByte())
	}
	if got := id.String(); got != "C0:98:E5:42:00:2A" {
		t.Fatalf("unexpected string form %q", got)
	}
	if _, err := ParseHardwareID("C0:98:E5"); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for short id, got %v", err)
	}
}

func TestConfiguration_RoundTrip(t *testing.T) {
	cfg := Configuration{
		StartTime:      1700000000,
		EndTime:        1700086400,
		DailyStartTime: 7 * 3600,
		DailyEndTime:   22 * 3600,
		DeviceCount:    3,
		Slots: []Slot{
			{ID: mustID(t, "C0:98:E5:42:00:01"), Label: "kitchen"},
			{ID: mustID(t, "C0:98:E5:42:00:02"), Label: "exactly16bytes!!"},
			{ID: mustID(t, "C0:98:E5:42:00:03"), Label: ""},
		},
	}

	wire, err := EncodeConfiguration(cfg)
	if err != nil {
		t.Fatalf("EncodeConfiguration: %v", err)
	}
	if len(wire) != ConfigurationWireLen || wire[0] != CommandNewConfiguration {
		t.Fatalf("expected %d bytes led by tag 0x01, got %d led by 0x%02X", ConfigurationWireLen, len(wire), wire[0])
	}

	got, err := DecodeConfiguration(wire[1:])
	if err != nil {
		t.Fatalf("DecodeConfiguration: %v", err)
	}
	if got.StartTime != cfg.StartTime || got.EndTime != cfg.EndTime ||
		got.DailyStartTime != cfg.DailyStartTime || got.DailyEndTime != cfg.DailyEndTime ||
		got.DeviceCount != cfg.DeviceCount {
		t.Fatalf("header mismatch: %+v vs %+v", got, cfg)
	}
	if len(got.Slots) != MaxDevices {
		t.Fatalf("expected %d slots, got %d", MaxDevices, len(got.Slots))
	}
	if !reflect.DeepEqual(got.Devices(), cfg.Slots) {
		t.Fatalf("slots mismatch: %+v vs %+v", got.Devices(), cfg.Slots)
	}
	for i := len(cfg.Slots); i < MaxDevices; i++ {
		if !got.Slots[i].ID.IsZero() || got.Slots[i].Label != "" {
			t.Fatalf("expected zero padding in slot %d, got %+v", i, got.Slots[i])
		}
	}
}

func TestDecodeConfiguration_LengthMismatch(t *testing.T) {
	wire, err := EncodeConfiguration(Configuration{})
	if err != nil {
		t.Fatalf("EncodeConfiguration: %v", err)
	}
	// The written form keeps its tag byte; read-back must not.
	if _, err := DecodeConfiguration(wire); !errors.Is(err, faults.ErrDecode) {
		t.Fatalf("expected decode error for tagged buffer, got %v", err)
	}
}

func TestConfiguration_Validation(t *testing.T) {
	a := mustID(t, "C0:98:E5:42:00:01")
	b := mustID(t, "C0:98:E5:42:00:02")

	cases := map[string]Configuration{
		"duplicate ids":    {DeviceCount: 2, Slots: []Slot{{ID: a, Label: "x"}, {ID: a, Label: "y"}}},
		"duplicate labels": {DeviceCount: 2, Slots: []Slot{{ID: a, Label: "x"}, {ID: b, Label: "x"}}},
		"long label":       {DeviceCount: 1, Slots: []Slot{{ID: a, Label: strings.Repeat("l", 17)}}},
		"count too large":  {DeviceCount: 11},
		"count over slots": {DeviceCount: 2, Slots: []Slot{{ID: a}}},
		"too many slots":   {Slots: make([]Slot, 11)},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := EncodeConfiguration(cfg); !errors.Is(err, faults.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	ok := Configuration{DeviceCount: 2, Slots: []Slot{{ID: a}, {ID: b}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("empty labels may repeat, got %v", err)
	}
}

func TestDecodeLogStream_RoundTrip(t *testing.T) {
	records := []Record{
		{Kind: KindVoltage, Timestamp: 100, Voltage: 3912},
		{Kind: KindCharging, Timestamp: 101, Charging: ChargingUnplugged},
		{Kind: KindMotion, Timestamp: 102, Motion: true},
		{Kind: KindRanges, Timestamp: 103, Ranges: []Range{{Peer: 1, DistanceMM: -5}, {Peer: 2, DistanceMM: 1200}}},
		{Kind: KindMotion, Timestamp: 104, Motion: false},
		{Kind: KindRanges, Timestamp: 105, Ranges: []Range{}},
	}
	buf, err := EncodeLogStream(records)
	if err != nil {
		t.Fatalf("EncodeLogStream: %v", err)
	}
	if want := 9 + 6 + 6 + 12 + 6 + 6; len(buf) != want {
		t.Fatalf("expected %d bytes, got %d", want, len(buf))
	}

	got, err := DecodeLogStream(buf)
	if err != nil {
		t.Fatalf("DecodeLogStream: %v", err)
	}
	if !reflect.DeepEqual(got, records) {
		t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", got, records)
	}
}

func TestDecodeLogStream_Errors(t *testing.T) {
	good, _ := EncodeLogStream([]Record{{Kind: KindVoltage, Timestamp: 1, Voltage: 2}})

	if _, err := DecodeLogStream(append(bytes.Clone(good), 0x09, 0, 0, 0, 0, 0)); !errors.Is(err, faults.ErrDecode) {
		t.Fatalf("expected decode error for unknown tag, got %v", err)
	}
	if _, err := DecodeLogStream(good[:7]); !errors.Is(err, faults.ErrDecode) {
		t.Fatalf("expected decode error for short record, got %v", err)
	}
	ranges := []byte{byte(KindRanges), 1, 0, 0, 0, 2, 1, 5, 0}
	if _, err := DecodeLogStream(ranges); !errors.Is(err, faults.ErrDecode) {
		t.Fatalf("expected decode error when peers run past the buffer, got %v", err)
	}
	if recs, err := DecodeLogStream(nil); err != nil || len(recs) != 0 {
		t.Fatalf("expected empty buffer to decode cleanly, got %v %v", recs, err)
	}
}

func TestDecodeLogStream_UnknownChargingCode(t *testing.T) {
	recs, err := DecodeLogStream([]byte{byte(KindCharging), 0, 0, 0, 0, 9})
	if err != nil {
		t.Fatalf("DecodeLogStream: %v", err)
	}
	if recs[0].Charging.String() != "Unknown" {
		t.Fatalf("expected Unknown, got %q", recs[0].Charging.String())
	}
}

func TestDecodeRangeNotification(t *testing.T) {
	got, err := DecodeRangeNotification([]byte{2, 0x0A, 0xE8, 0x03, 0x0B, 0xFF, 0xFF})
	if err != nil {
		t.Fatalf("DecodeRangeNotification: %v", err)
	}
	want := []LiveRange{{Peer: 0x0A, DistanceMM: 1000}, {Peer: 0x0B, DistanceMM: 65535}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if _, err := DecodeRangeNotification([]byte{3, 1, 2}); !errors.Is(err, faults.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestPointPayloads(t *testing.T) {
	ts, err := DecodeTimestamp(EncodeTimestamp(1700000123))
	if err != nil || ts != 1700000123 {
		t.Fatalf("timestamp round trip: %d %v", ts, err)
	}
	if mv, err := DecodeVoltage([]byte{0x48, 0x0F}); err != nil || mv != 3912 {
		t.Fatalf("expected 3912 mV, got %d %v", mv, err)
	}
	if !IsDownloadComplete([]byte{0xFF}) || IsDownloadComplete([]byte{0xFF, 0xFF}) {
		t.Fatalf("sentinel detection wrong")
	}
	if !bytes.Equal(EncodeFindBeacon(FindBeaconSeconds), []byte{10, 0, 0, 0}) {
		t.Fatalf("unexpected find payload")
	}
}
