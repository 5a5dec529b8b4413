package reassembly

import (
	"tottag/controller/internal/codec"
	"tottag/controller/internal/naming"
)

// Ranging is one peer distance inside a merged entry.
type Ranging struct {
	Peer       uint8  `json:"peer"`
	Label      string `json:"label"`
	DistanceMM int16  `json:"distance_mm"`
}

// Entry holds every record logged at one timestamp. Nil fields were not logged.
type Entry struct {
	Timestamp uint32               `json:"timestamp"`
	Voltage   *uint32              `json:"voltage,omitempty"`
	Charging  *codec.ChargingEvent `json:"charging,omitempty"`
	Motion    *bool                `json:"motion,omitempty"`
	Ranges    []Ranging            `json:"ranges,omitempty"`
}

// Download is a completed, decoded log transfer.
type Download struct {
	Source        string              `json:"source"`
	Label         string              `json:"label"`
	Configuration codec.Configuration `json:"configuration"`
	Entries       []Entry             `json:"entries"`
	Bytes         int                 `json:"bytes"`
}

// Merge groups records by timestamp in first-seen order. Scalar kinds keep the
// last value seen; ranges accumulate per peer, a later distance replacing an earlier one.
func Merge(records []codec.Record, index *naming.Index) []Entry {
	entries := make([]Entry, 0, len(records))
	pos := make(map[uint32]int, len(records))

	for _, rec := range records {
		i, ok := pos[rec.Timestamp]
		if !ok {
			i = len(entries)
			pos[rec.Timestamp] = i
			entries = append(entries, Entry{Timestamp: rec.Timestamp})
		}
		e := &entries[i]

		switch rec.Kind {
		case codec.KindVoltage:
			v := rec.Voltage
			e.Voltage = &v
		case codec.KindCharging:
			c := rec.Charging
			e.Charging = &c
		case codec.KindMotion:
			m := rec.Motion
			e.Motion = &m
		case codec.KindRanges:
			for _, r := range rec.Ranges {
				e.Ranges = mergeRange(e.Ranges, Ranging{
					Peer:       r.Peer,
					Label:      index.Lookup(r.Peer),
					DistanceMM: r.DistanceMM,
				})
			}
		}
	}
	return entries
}

func mergeRange(ranges []Ranging, r Ranging) []Ranging {
	for i := range ranges {
		if ranges[i].Peer == r.Peer {
			ranges[i] = r
			return ranges
		}
	}
	return append(ranges, r)
}
