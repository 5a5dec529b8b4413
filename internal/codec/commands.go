package codec

import (
	"encoding/binary"

	"tottag/controller/internal/faults"
)

// LiveRange is one peer in a live ranging notification. Live distances are unsigned.
type LiveRange struct {
	Peer       uint8  `json:"peer"`
	DistanceMM uint16 `json:"distance_mm"`
}

func DeleteCommand() []byte {
	return []byte{CommandDeleteConfiguration}
}

func DownloadCommand() []byte {
	return []byte{CommandDownloadLog}
}

// IsDownloadComplete reports whether a maintenance-data chunk is the end-of-transfer sentinel.
func IsDownloadComplete(chunk []byte) bool {
	return len(chunk) == 1 && chunk[0] == DownloadComplete
}

func EncodeTimestamp(epochSeconds uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, epochSeconds)
}

func DecodeTimestamp(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, faults.Decode("timestamp length mismatch: expected 4, got %d", len(data))
	}
	return binary.LittleEndian.Uint32(data), nil
}

// DecodeVoltage returns the battery voltage in millivolts.
func DecodeVoltage(data []byte) (uint16, error) {
	if len(data) != 2 {
		return 0, faults.Decode("voltage length mismatch: expected 2, got %d", len(data))
	}
	return binary.LittleEndian.Uint16(data), nil
}

func EncodeFindBeacon(seconds uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, seconds)
}

// DecodeRangeNotification parses a live ranging push: count, then count×(peer, uint16 mm).
func DecodeRangeNotification(data []byte) ([]LiveRange, error) {
	if len(data) == 0 {
		return nil, faults.Decode("empty ranging notification")
	}
	n := int(data[0])
	if len(data) < 1+3*n {
		return nil, faults.Decode("ranging notification declares %d peers but carries %d bytes", n, len(data)-1)
	}
	out := make([]LiveRange, 0, n)
	for i := 0; i < n; i++ {
		off := 1 + 3*i
		out = append(out, LiveRange{
			Peer:       data[off],
			DistanceMM: binary.LittleEndian.Uint16(data[off+1 : off+3]),
		})
	}
	return out, nil
}
