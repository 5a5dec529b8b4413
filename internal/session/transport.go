package session

import (
	"context"
	"time"
)

// Channel is a GATT characteristic role exposed by a tag.
type Channel int

const (
	ChannelIdentity Channel = iota + 1
	ChannelRanging
	ChannelFind
	ChannelTimestamp
	ChannelVoltage
	ChannelConfiguration
	ChannelCommand
	ChannelData
)

func (c Channel) String() string {
	switch c {
	case ChannelIdentity:
		return "identity"
	case ChannelRanging:
		return "ranging"
	case ChannelFind:
		return "find"
	case ChannelTimestamp:
		return "timestamp"
	case ChannelVoltage:
		return "voltage"
	case ChannelConfiguration:
		return "configuration"
	case ChannelCommand:
		return "maintenance_command"
	case ChannelData:
		return "maintenance_data"
	default:
		return "unknown"
	}
}

// Device is a tag seen during a scan.
type Device struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Transport finds and connects to tags.
type Transport interface {
	// Scan listens for advertisements for timeout and returns devices whose
	// advertised name equals name.
	Scan(ctx context.Context, timeout time.Duration, name string) ([]Device, error)
	// Connect opens a link. onLost fires at most once if the link drops
	// without Disconnect being called.
	Connect(ctx context.Context, address string, onLost func()) (Link, error)
}

// Link is an open connection to one tag.
type Link interface {
	Address() string
	Read(ctx context.Context, ch Channel) ([]byte, error)
	Write(ctx context.Context, ch Channel, payload []byte) error
	Subscribe(ctx context.Context, ch Channel, sink func([]byte)) error
	Unsubscribe(ctx context.Context, ch Channel) error
	Disconnect(ctx context.Context) error
}
