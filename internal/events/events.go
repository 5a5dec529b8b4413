package events

import (
	"time"

	"tottag/controller/internal/codec"
	"tottag/controller/internal/schedule"
)

// Kind names an event as operators and forwarders see it.
type Kind string

const (
	KindScanning          Kind = "scanning"
	KindDevice            Kind = "device"
	KindConnecting        Kind = "connecting"
	KindConnected         Kind = "connected"
	KindDisconnected      Kind = "disconnected"
	KindRetrieving        Kind = "retrieving"
	KindTimestamp         Kind = "timestamp"
	KindVoltage           Kind = "voltage"
	KindScheduling        Kind = "scheduling"
	KindSchedulingFailure Kind = "scheduling_failure"
	KindScheduled         Kind = "scheduled"
	KindConfiguration     Kind = "configuration"
	KindDeleted           Kind = "deleted"
	KindRanges            Kind = "ranges"
	KindLogProgress       Kind = "log_progress"
	KindDownloaded        Kind = "downloaded"
	KindDownloadSaved     Kind = "download_saved"
	KindError             Kind = "error"
)

// Event is one entry of the outbound stream. Seq is strictly increasing.
type Event struct {
	Seq      uint64    `json:"seq"`
	Kind     Kind      `json:"kind"`
	IntentID string    `json:"intent_id,omitempty"`
	Time     time.Time `json:"time"`
	Data     any       `json:"data,omitempty"`
}

type Flag struct {
	Active bool `json:"active"`
}

type Device struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type Link struct {
	Address string `json:"address"`
	// Lost is set when the tag dropped the link on its own.
	Lost bool `json:"lost,omitempty"`
}

type Timestamp struct {
	Epoch uint32    `json:"epoch"`
	UTC   time.Time `json:"utc"`
}

type Voltage struct {
	Millivolts uint16 `json:"millivolts"`
}

type Scheduling struct {
	Active  bool     `json:"active"`
	Targets []string `json:"targets,omitempty"`
}

type SchedulingFailure struct {
	Address  string `json:"address"`
	Category string `json:"category"`
	Detail   string `json:"detail"`
}

type Scheduled struct {
	Success     bool     `json:"success"`
	Unreachable []string `json:"unreachable,omitempty"`
}

type Configuration struct {
	Address       string              `json:"address"`
	Configuration codec.Configuration `json:"configuration"`
	View          schedule.View       `json:"view"`
}

type Deleted struct {
	Address string `json:"address"`
}

type Ranges struct {
	Address string            `json:"address"`
	Ranges  []codec.LiveRange `json:"ranges"`
}

type LogProgress struct {
	Stage  string `json:"stage"`
	Offset int    `json:"offset"`
	Total  int    `json:"total"`
}

type Downloaded struct {
	Address  string `json:"address"`
	Complete bool   `json:"complete"`
	Label    string `json:"label,omitempty"`
	Entries  int    `json:"entries"`
	Bytes    int    `json:"bytes"`
}

type DownloadSaved struct {
	Archive  string `json:"archive"`
	Location string `json:"location"`
}

type Error struct {
	Category string `json:"category"`
	Detail   string `json:"detail"`
	Intent   string `json:"intent,omitempty"`
}
