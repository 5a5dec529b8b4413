package dispatcher

import (
	"strings"

	"tottag/controller/internal/faults"
	"tottag/controller/internal/schedule"
)

// Kind names an operator intent or an internal message.
type Kind string

const (
	KindScan                Kind = "scan"
	KindConnect             Kind = "connect"
	KindDisconnect          Kind = "disconnect"
	KindSubscribe           Kind = "subscribe"
	KindUnsubscribe         Kind = "unsubscribe"
	KindFind                Kind = "find"
	KindTimestamp           Kind = "timestamp"
	KindVoltage             Kind = "voltage"
	KindConfigure           Kind = "configure"
	KindReadConfiguration   Kind = "read-configuration"
	KindDeleteConfiguration Kind = "delete-configuration"
	KindDownload            Kind = "download"
	KindDownloadFinalize    Kind = "download-finalize"
	KindQuit                Kind = "quit"

	kindRangesNotification Kind = "ranges-notification"
	kindDataNotification   Kind = "data-notification"
	kindLinkLost           Kind = "link-lost"
)

var operatorKinds = map[Kind]struct{}{
	KindScan:                {},
	KindConnect:             {},
	KindDisconnect:          {},
	KindSubscribe:           {},
	KindUnsubscribe:         {},
	KindFind:                {},
	KindTimestamp:           {},
	KindVoltage:             {},
	KindConfigure:           {},
	KindReadConfiguration:   {},
	KindDeleteConfiguration: {},
	KindDownload:            {},
	KindDownloadFinalize:    {},
	KindQuit:                {},
}

// ParseKind accepts operator intent kinds only.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := operatorKinds[k]; !ok {
		return "", faults.Validation("unknown intent kind %q", s)
	}
	return k, nil
}

// Intent is one operator request. Only the fields its Kind uses are read.
type Intent struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	// connect
	Address string `json:"address,omitempty"`
	// scan: fast, normal or deep
	Preset string `json:"preset,omitempty"`
	// download: overrides the configured archive directory
	Directory string `json:"directory,omitempty"`
	// read-configuration: zone used to render times
	Timezone string `json:"timezone,omitempty"`
	// configure
	Schedule *schedule.Request `json:"schedule,omitempty"`
}

// tearsDown reports whether an intent first drops ranging and finishes any download.
func (k Kind) tearsDown() bool {
	switch k {
	case KindDownloadFinalize, kindRangesNotification, kindDataNotification, kindLinkLost:
		return false
	default:
		return true
	}
}

func (k Kind) internal() bool {
	switch k {
	case kindRangesNotification, kindDataNotification, kindLinkLost:
		return true
	default:
		return false
	}
}

// message is a queue item: an operator intent or a notification from the transport.
type message struct {
	intent     Intent
	payload    []byte
	generation uint64
}
