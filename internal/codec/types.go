package codec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"tottag/controller/internal/faults"
)

const (
	MaxDevices     = 10
	MaxLabelLength = 16
	HardwareIDLen  = 6

	// Maintenance command tags written to the command channel.
	CommandNewConfiguration    byte = 0x01
	CommandDeleteConfiguration byte = 0x02
	CommandDownloadLog         byte = 0x03

	// DownloadComplete is the single-byte sentinel ending a log transfer.
	DownloadComplete byte = 0xFF

	// FindBeaconSeconds is how long a tag beeps after a find request.
	FindBeaconSeconds = 10
)

// HardwareID is a 6-byte tag address in wire order (least significant octet first).
type HardwareID [HardwareIDLen]byte

// ParseHardwareID parses the textual "AA:BB:CC:DD:EE:FF" form.
func ParseHardwareID(s string) (HardwareID, error) {
	var id HardwareID
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != HardwareIDLen {
		return id, faults.Validation("hardware id %q must have %d octets", s, HardwareIDLen)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return id, faults.Validation("hardware id %q has invalid octet %q", s, p)
		}
		id[HardwareIDLen-1-i] = b[0]
	}
	return id, nil
}

// String renders the address most significant octet first, as advertised.
func (id HardwareID) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", id[5], id[4], id[3], id[2], id[1], id[0])
}

// LowByte is the octet log entries use to name a ranging peer.
func (id HardwareID) LowByte() byte {
	return id[0]
}

func (id HardwareID) IsZero() bool {
	return id == HardwareID{}
}

// MarshalJSON implements json.Marshaler
func (id HardwareID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (id *HardwareID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHardwareID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ChargingEvent is the battery event code stored in the log.
type ChargingEvent uint8

const (
	ChargingPlugged     ChargingEvent = 1
	ChargingUnplugged   ChargingEvent = 2
	ChargingCharging    ChargingEvent = 3
	ChargingNotCharging ChargingEvent = 4
)

func (c ChargingEvent) String() string {
	switch c {
	case ChargingPlugged:
		return "Plugged"
	case ChargingUnplugged:
		return "Unplugged"
	case ChargingCharging:
		return "Charging"
	case ChargingNotCharging:
		return "Not Charging"
	default:
		return "Unknown"
	}
}
