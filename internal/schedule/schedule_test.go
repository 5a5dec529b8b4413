package schedule

import (
	"errors"
	"testing"

	"tottag/controller/internal/faults"
)

func baseRequest() Request {
	return Request{
		Timezone:  "UTC",
		StartDate: "03/01/2024",
		StartTime: "07:00",
		EndDate:   "03/08/2024",
		EndTime:   "22:00",
		Devices: []Assignment{
			{Address: "C0:98:E5:42:00:01", Label: " mom "},
			{Address: "C0:98:E5:42:00:02", Label: "kid"},
		},
	}
}

func TestBuild_PacksTimesAndSlots(t *testing.T) {
	req := baseRequest()
	req.DailyStart = "07:30"
	req.DailyEnd = "21:15"

	plan, err := Build(req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	cfg := plan.Configuration
	if cfg.StartTime != 1709276400 {
		t.Fatalf("expected start 1709276400, got %d", cfg.StartTime)
	}
	if cfg.EndTime != 1709935200 {
		t.Fatalf("expected end 1709935200, got %d", cfg.EndTime)
	}
	if cfg.DailyStartTime != 7*3600+30*60 || cfg.DailyEndTime != 21*3600+15*60 {
		t.Fatalf("unexpected daily times %d %d", cfg.DailyStartTime, cfg.DailyEndTime)
	}
	if cfg.DeviceCount != 2 || cfg.Slots[0].Label != "mom" || cfg.Slots[0].ID.LowByte() != 0x01 {
		t.Fatalf("unexpected slots %+v", cfg.Slots)
	}
	if len(plan.Targets) != 2 || plan.Targets[1] != "C0:98:E5:42:00:02" {
		t.Fatalf("unexpected targets %v", plan.Targets)
	}
}

func TestBuild_HonoursTimezone(t *testing.T) {
	req := baseRequest()
	req.Timezone = "America/New_York"
	plan, err := Build(req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// 07:00 EST is 12:00 UTC.
	if plan.Configuration.StartTime != 1709276400+5*3600 {
		t.Fatalf("unexpected start %d", plan.Configuration.StartTime)
	}
}

func TestBuild_Rejects(t *testing.T) {
	cases := map[string]func(*Request){
		"duplicate tags":   func(r *Request) { r.Devices[1].Address = r.Devices[0].Address },
		"duplicate labels": func(r *Request) { r.Devices[1].Label = "mom" },
		"long label":       func(r *Request) { r.Devices[0].Label = "seventeen bytes!!" },
		"end before start": func(r *Request) { r.EndDate = "02/01/2024" },
		"half daily":       func(r *Request) { r.DailyStart = "08:00" },
		"bad zone":         func(r *Request) { r.Timezone = "Mars/Olympus" },
		"no devices":       func(r *Request) { r.Devices = nil },
		"bad address":      func(r *Request) { r.Devices[0].Address = "nope" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := baseRequest()
			mutate(&req)
			if _, err := Build(req); !errors.Is(err, faults.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	req := baseRequest()
	req.DailyStart = "07:30"
	req.DailyEnd = "21:15"
	plan, err := Build(req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	v, err := Describe(plan.Configuration, "UTC")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if v.Start != "03/01/2024 07:00" || v.End != "03/08/2024 22:00" {
		t.Fatalf("unexpected window %q - %q", v.Start, v.End)
	}
	if v.DailyStart != "07:30" || v.DailyEnd != "21:15" {
		t.Fatalf("unexpected daily window %q - %q", v.DailyStart, v.DailyEnd)
	}
	if len(v.Devices) != 2 || v.Devices[0].Address != "C0:98:E5:42:00:01" || v.Devices[0].Label != "mom" {
		t.Fatalf("unexpected devices %+v", v.Devices)
	}
}
