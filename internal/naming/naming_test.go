package naming

import (
	"errors"
	"testing"

	"tottag/controller/internal/codec"
	"tottag/controller/internal/faults"
)

func TestNormalizeLabel(t *testing.T) {
	label, err := NormalizeLabel("  bedroom  ")
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if label != "bedroom" {
		t.Fatalf("expected trimmed label, got %q", label)
	}

	if _, err := NormalizeLabel("this label is too long"); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := NormalizeLabel("bad\x00label"); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for NUL, got %v", err)
	}
}

func TestIndex_LookupFallsBackToLowByte(t *testing.T) {
	a, _ := codec.ParseHardwareID("C0:98:E5:42:00:01")
	b, _ := codec.ParseHardwareID("C0:98:E5:42:00:02")
	c, _ := codec.ParseHardwareID("C0:98:E5:42:00:03")

	idx := NewIndex(codec.Configuration{
		DeviceCount: 2,
		Slots:       []codec.Slot{{ID: a, Label: "mom"}, {ID: b}, {ID: c, Label: "unused"}},
	})

	if got := idx.Lookup(0x01); got != "mom" {
		t.Fatalf("expected mom, got %q", got)
	}
	if got := idx.Lookup(0x02); got != "02" {
		t.Fatalf("expected low byte fallback for empty label, got %q", got)
	}
	if got := idx.Lookup(0x03); got != "03" {
		t.Fatalf("slots beyond the device count must be ignored, got %q", got)
	}

	var nilIdx *Index
	if got := nilIdx.Lookup(0xAB); got != "AB" {
		t.Fatalf("expected AB from nil index, got %q", got)
	}
}

func TestFileName(t *testing.T) {
	cases := map[string]string{
		"kitchen":     "kitchen",
		"living room": "living_room",
		"../etc":      ".._etc",
		"":            "unknown",
		"..":          "unknown",
	}
	for in, want := range cases {
		if got := FileName(in); got != want {
			t.Fatalf("FileName(%q): expected %q, got %q", in, want, got)
		}
	}
}
