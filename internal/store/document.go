package store

import (
	"time"

	"tottag/controller/internal/codec"
	"tottag/controller/internal/reassembly"
)

// Document is the archived form of one download.
type Document struct {
	Source        string              `json:"source"`
	Label         string              `json:"label"`
	DownloadedAt  time.Time           `json:"downloaded_at"`
	Bytes         int                 `json:"bytes"`
	Configuration codec.Configuration `json:"configuration"`
	Entries       []DocumentEntry     `json:"entries"`
}

type Charging struct {
	Code uint8  `json:"code"`
	Name string `json:"name"`
}

type DocumentEntry struct {
	Timestamp uint32               `json:"timestamp"`
	Time      time.Time            `json:"time"`
	Voltage   *uint32              `json:"voltage,omitempty"`
	Charging  *Charging            `json:"charging,omitempty"`
	Motion    *bool                `json:"motion,omitempty"`
	Ranges    []reassembly.Ranging `json:"ranges,omitempty"`
}

func newDocument(dl reassembly.Download, at time.Time) Document {
	doc := Document{
		Source:        dl.Source,
		Label:         dl.Label,
		DownloadedAt:  at.UTC(),
		Bytes:         dl.Bytes,
		Configuration: dl.Configuration,
		Entries:       make([]DocumentEntry, 0, len(dl.Entries)),
	}
	for _, e := range dl.Entries {
		doc.Entries = append(doc.Entries, documentEntry(e))
	}
	return doc
}

func documentEntry(e reassembly.Entry) DocumentEntry {
	de := DocumentEntry{
		Timestamp: e.Timestamp,
		Time:      time.Unix(int64(e.Timestamp), 0).UTC(),
		Voltage:   e.Voltage,
		Motion:    e.Motion,
		Ranges:    e.Ranges,
	}
	if e.Charging != nil {
		de.Charging = &Charging{Code: uint8(*e.Charging), Name: e.Charging.String()}
	}
	return de
}

// Download converts a document back to the in-memory form.
func (d Document) Download() reassembly.Download {
	dl := reassembly.Download{
		Source:        d.Source,
		Label:         d.Label,
		Configuration: d.Configuration,
		Bytes:         d.Bytes,
		Entries:       make([]reassembly.Entry, 0, len(d.Entries)),
	}
	for _, de := range d.Entries {
		e := reassembly.Entry{
			Timestamp: de.Timestamp,
			Voltage:   de.Voltage,
			Motion:    de.Motion,
			Ranges:    de.Ranges,
		}
		if de.Charging != nil {
			c := codec.ChargingEvent(de.Charging.Code)
			e.Charging = &c
		}
		dl.Entries = append(dl.Entries, e)
	}
	return dl
}
