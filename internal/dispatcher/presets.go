package dispatcher

import (
	"strings"
	"time"
)

const (
	ScanPresetFast   = "fast"
	ScanPresetNormal = "normal"
	ScanPresetDeep   = "deep"
)

func canonicalizeScanPreset(value string) string {
	s := strings.ToLower(strings.TrimSpace(value))
	switch s {
	case ScanPresetFast, ScanPresetNormal, ScanPresetDeep:
		return s
	default:
		return ScanPresetNormal
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	if a > b {
		return a
	}
	return b
}

// scanWindow returns how long to listen for advertisements under a preset.
func scanWindow(base time.Duration, preset string) time.Duration {
	switch preset {
	case ScanPresetFast:
		return minDuration(base, 2*time.Second)
	case ScanPresetDeep:
		return maxDuration(base, 10*time.Second)
	default:
		// normal: configured window
		return base
	}
}
