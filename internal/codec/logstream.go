package codec

import (
	"encoding/binary"

	"tottag/controller/internal/faults"
)

// RecordKind is the tag byte leading every stored log record.
type RecordKind uint8

const (
	KindVoltage  RecordKind = 1
	KindCharging RecordKind = 2
	KindMotion   RecordKind = 3
	KindRanges   RecordKind = 4
)

func (k RecordKind) String() string {
	switch k {
	case KindVoltage:
		return "voltage"
	case KindCharging:
		return "charging"
	case KindMotion:
		return "motion"
	case KindRanges:
		return "ranges"
	default:
		return "unknown"
	}
}

// record header: tag byte + uint32 timestamp
const recordHeaderLen = 5

// Range is one peer measurement inside a ranging snapshot.
type Range struct {
	Peer       uint8 `json:"peer"`
	DistanceMM int16 `json:"distance_mm"`
}

// Record is a single decoded log entry. Only the field matching Kind is meaningful.
type Record struct {
	Kind      RecordKind
	Timestamp uint32
	Voltage   uint32
	Charging  ChargingEvent
	Motion    bool
	Ranges    []Range
}

// DecodeLogStream walks a reassembled log buffer record by record.
func DecodeLogStream(data []byte) ([]Record, error) {
	var out []Record
	pos := 0
	for pos < len(data) {
		kind := RecordKind(data[pos])
		if kind < KindVoltage || kind > KindRanges {
			return out, faults.Decode("unrecognized log tag 0x%02X at offset %d", data[pos], pos)
		}
		if pos+recordHeaderLen > len(data) {
			return out, faults.Decode("log record at offset %d truncated in header", pos)
		}
		rec := Record{
			Kind:      kind,
			Timestamp: binary.LittleEndian.Uint32(data[pos+1 : pos+5]),
		}
		payload := pos + recordHeaderLen

		size := 0
		switch kind {
		case KindVoltage:
			size = recordHeaderLen + 4
		case KindCharging, KindMotion:
			size = recordHeaderLen + 1
		case KindRanges:
			if payload >= len(data) {
				return out, faults.Decode("ranges record at offset %d missing count", pos)
			}
			size = recordHeaderLen + 1 + 3*int(data[payload])
		}
		if pos+size > len(data) {
			return out, faults.Decode("%s record at offset %d needs %d bytes, %d remain", kind, pos, size, len(data)-pos)
		}

		switch kind {
		case KindVoltage:
			rec.Voltage = binary.LittleEndian.Uint32(data[payload : payload+4])
		case KindCharging:
			rec.Charging = ChargingEvent(data[payload])
		case KindMotion:
			rec.Motion = data[payload] > 0
		case KindRanges:
			n := int(data[payload])
			rec.Ranges = make([]Range, 0, n)
			for j := 0; j < n; j++ {
				off := payload + 1 + 3*j
				rec.Ranges = append(rec.Ranges, Range{
					Peer:       data[off],
					DistanceMM: int16(binary.LittleEndian.Uint16(data[off+1 : off+3])),
				})
			}
		}

		out = append(out, rec)
		pos += size
	}
	return out, nil
}

// EncodeLogStream is the inverse of DecodeLogStream, as a tag would store the records.
func EncodeLogStream(records []Record) ([]byte, error) {
	var out []byte
	for _, rec := range records {
		var hdr [recordHeaderLen]byte
		hdr[0] = byte(rec.Kind)
		binary.LittleEndian.PutUint32(hdr[1:], rec.Timestamp)
		out = append(out, hdr[:]...)

		switch rec.Kind {
		case KindVoltage:
			out = binary.LittleEndian.AppendUint32(out, rec.Voltage)
		case KindCharging:
			out = append(out, byte(rec.Charging))
		case KindMotion:
			if rec.Motion {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		case KindRanges:
			if len(rec.Ranges) > 255 {
				return nil, faults.Validation("ranges record holds %d peers, at most 255 fit", len(rec.Ranges))
			}
			out = append(out, byte(len(rec.Ranges)))
			for _, r := range rec.Ranges {
				out = append(out, r.Peer)
				out = binary.LittleEndian.AppendUint16(out, uint16(r.DistanceMM))
			}
		default:
			return nil, faults.Validation("cannot encode record kind %d", rec.Kind)
		}
	}
	return out, nil
}
