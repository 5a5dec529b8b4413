package schedule

import (
	"fmt"
	"strings"
	"time"

	"tottag/controller/internal/codec"
	"tottag/controller/internal/faults"
	"tottag/controller/internal/naming"
)

const (
	DateLayout = "01/02/2006"
	TimeLayout = "15:04"
)

// Assignment names one tag taking part in a deployment.
type Assignment struct {
	Address string `json:"address"`
	Label   string `json:"label"`
}

// Request is a deployment as an operator enters it: local wall-clock strings in a named zone.
type Request struct {
	Timezone   string       `json:"timezone"`
	StartDate  string       `json:"start_date"`
	StartTime  string       `json:"start_time"`
	EndDate    string       `json:"end_date"`
	EndTime    string       `json:"end_time"`
	DailyStart string       `json:"daily_start,omitempty"`
	DailyEnd   string       `json:"daily_end,omitempty"`
	Devices    []Assignment `json:"devices"`
}

// Plan is a validated deployment ready to be written to every target.
type Plan struct {
	Configuration codec.Configuration
	Targets       []string
}

// Build validates a request and packs it into the on-tag configuration record.
func Build(req Request) (Plan, error) {
	loc, err := loadZone(req.Timezone)
	if err != nil {
		return Plan{}, err
	}

	start, err := packDateTime(loc, req.StartDate, req.StartTime)
	if err != nil {
		return Plan{}, fmt.Errorf("start: %w", err)
	}
	end, err := packDateTime(loc, req.EndDate, req.EndTime)
	if err != nil {
		return Plan{}, fmt.Errorf("end: %w", err)
	}
	if end <= start {
		return Plan{}, faults.Validation("deployment must end after it starts")
	}

	var dailyStart, dailyEnd uint32
	switch {
	case req.DailyStart == "" && req.DailyEnd == "":
	case req.DailyStart == "" || req.DailyEnd == "":
		return Plan{}, faults.Validation("daily start and end must be given together")
	default:
		if dailyStart, err = packTimeOfDay(req.DailyStart); err != nil {
			return Plan{}, fmt.Errorf("daily start: %w", err)
		}
		if dailyEnd, err = packTimeOfDay(req.DailyEnd); err != nil {
			return Plan{}, fmt.Errorf("daily end: %w", err)
		}
	}

	if len(req.Devices) == 0 {
		return Plan{}, faults.Validation("a deployment needs at least one tag")
	}
	if len(req.Devices) > codec.MaxDevices {
		return Plan{}, faults.Validation("%d tags requested, at most %d supported", len(req.Devices), codec.MaxDevices)
	}

	cfg := codec.Configuration{
		StartTime:      start,
		EndTime:        end,
		DailyStartTime: dailyStart,
		DailyEndTime:   dailyEnd,
		DeviceCount:    uint8(len(req.Devices)),
		Slots:          make([]codec.Slot, 0, len(req.Devices)),
	}
	targets := make([]string, 0, len(req.Devices))
	for _, d := range req.Devices {
		id, err := codec.ParseHardwareID(d.Address)
		if err != nil {
			return Plan{}, err
		}
		label, err := naming.NormalizeLabel(d.Label)
		if err != nil {
			return Plan{}, err
		}
		cfg.Slots = append(cfg.Slots, codec.Slot{ID: id, Label: label})
		targets = append(targets, id.String())
	}
	if err := cfg.Validate(); err != nil {
		return Plan{}, err
	}

	return Plan{Configuration: cfg, Targets: targets}, nil
}

// View is a stored configuration rendered for an operator in a chosen zone.
type View struct {
	Timezone   string       `json:"timezone"`
	Start      string       `json:"start"`
	End        string       `json:"end"`
	DailyStart string       `json:"daily_start,omitempty"`
	DailyEnd   string       `json:"daily_end,omitempty"`
	Devices    []Assignment `json:"devices"`
}

// Describe renders a configuration read back from a tag.
func Describe(cfg codec.Configuration, timezone string) (View, error) {
	loc, err := loadZone(timezone)
	if err != nil {
		return View{}, err
	}
	const layout = DateLayout + " " + TimeLayout
	v := View{
		Timezone: loc.String(),
		Start:    time.Unix(int64(cfg.StartTime), 0).In(loc).Format(layout),
		End:      time.Unix(int64(cfg.EndTime), 0).In(loc).Format(layout),
		Devices:  make([]Assignment, 0, cfg.DeviceCount),
	}
	if cfg.DailyStartTime > 0 {
		v.DailyStart = unpackTimeOfDay(cfg.DailyStartTime)
	}
	if cfg.DailyEndTime > 0 {
		v.DailyEnd = unpackTimeOfDay(cfg.DailyEndTime)
	}
	for _, s := range cfg.Devices() {
		v.Devices = append(v.Devices, Assignment{Address: s.ID.String(), Label: s.Label})
	}
	return v, nil
}

func loadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, faults.Validation("unknown timezone %q", name)
	}
	return loc, nil
}

func packDateTime(loc *time.Location, date, clock string) (uint32, error) {
	if strings.TrimSpace(date) == "" {
		return 0, faults.Validation("date is required")
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, strings.TrimSpace(date)+" "+strings.TrimSpace(clock), loc)
	if err != nil {
		return 0, faults.Validation("invalid date/time %q %q", date, clock)
	}
	if t.Unix() < 0 || t.Unix() > int64(^uint32(0)) {
		return 0, faults.Validation("date %q is outside the tag clock range", date)
	}
	return uint32(t.Unix()), nil
}

func packTimeOfDay(clock string) (uint32, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(clock))
	if err != nil {
		return 0, faults.Validation("invalid time of day %q", clock)
	}
	return uint32(t.Hour()*3600 + t.Minute()*60), nil
}

func unpackTimeOfDay(seconds uint32) string {
	hours := seconds / 3600
	minutes := (seconds - hours*3600) / 60
	return fmt.Sprintf("%02d:%02d", hours, minutes)
}
