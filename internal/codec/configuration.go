package codec

import (
	"bytes"
	"encoding/binary"

	"tottag/controller/internal/faults"
)

const (
	// ConfigurationBodyLen is the read-back size; the written form has one more leading tag byte.
	ConfigurationBodyLen = 4*4 + 1 + MaxDevices*HardwareIDLen + MaxDevices*MaxLabelLength
	ConfigurationWireLen = 1 + ConfigurationBodyLen
)

// Slot pairs a tag address with its operator label.
type Slot struct {
	ID    HardwareID `json:"id"`
	Label string     `json:"label"`
}

// Configuration is the deployment schedule stored on each tag.
type Configuration struct {
	StartTime      uint32 `json:"start_time"`
	EndTime        uint32 `json:"end_time"`
	DailyStartTime uint32 `json:"daily_start_time"`
	DailyEndTime   uint32 `json:"daily_end_time"`
	DeviceCount    uint8  `json:"device_count"`
	Slots          []Slot `json:"slots"`
}

// Devices returns the populated slots.
func (c Configuration) Devices() []Slot {
	n := int(c.DeviceCount)
	if n > len(c.Slots) {
		n = len(c.Slots)
	}
	return c.Slots[:n]
}

// Validate checks the slot invariants without touching the wire.
func (c Configuration) Validate() error {
	if c.DeviceCount > MaxDevices {
		return faults.Validation("device count %d exceeds %d", c.DeviceCount, MaxDevices)
	}
	if len(c.Slots) > MaxDevices {
		return faults.Validation("%d device slots exceeds %d", len(c.Slots), MaxDevices)
	}
	if int(c.DeviceCount) > len(c.Slots) {
		return faults.Validation("device count %d exceeds %d populated slots", c.DeviceCount, len(c.Slots))
	}
	for i, s := range c.Slots {
		if len(s.Label) > MaxLabelLength {
			return faults.Validation("label %q in slot %d is longer than %d bytes", s.Label, i, MaxLabelLength)
		}
	}

	ids := make(map[HardwareID]struct{}, c.DeviceCount)
	labels := make(map[string]struct{}, c.DeviceCount)
	for _, s := range c.Devices() {
		if _, dup := ids[s.ID]; dup {
			return faults.Validation("tag %s is listed more than once", s.ID)
		}
		ids[s.ID] = struct{}{}

		if s.Label == "" {
			continue
		}
		if _, dup := labels[s.Label]; dup {
			return faults.Validation("label %q is used for more than one tag", s.Label)
		}
		labels[s.Label] = struct{}{}
	}
	return nil
}

// EncodeConfiguration produces the command-channel write: tag byte then body.
func EncodeConfiguration(c Configuration) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	out := make([]byte, ConfigurationWireLen)
	out[0] = CommandNewConfiguration
	body := out[1:]

	binary.LittleEndian.PutUint32(body[0:4], c.StartTime)
	binary.LittleEndian.PutUint32(body[4:8], c.EndTime)
	binary.LittleEndian.PutUint32(body[8:12], c.DailyStartTime)
	binary.LittleEndian.PutUint32(body[12:16], c.DailyEndTime)
	body[16] = c.DeviceCount

	idBase := 17
	labelBase := idBase + MaxDevices*HardwareIDLen
	for i, s := range c.Slots {
		copy(body[idBase+i*HardwareIDLen:], s.ID[:])
		copy(body[labelBase+i*MaxLabelLength:labelBase+(i+1)*MaxLabelLength], s.Label)
	}

	return out, nil
}

// DecodeConfiguration parses the read-back body, which carries no leading tag byte.
func DecodeConfiguration(data []byte) (Configuration, error) {
	if len(data) != ConfigurationBodyLen {
		return Configuration{}, faults.Decode("configuration length mismatch: expected %d, got %d", ConfigurationBodyLen, len(data))
	}

	c := Configuration{
		StartTime:      binary.LittleEndian.Uint32(data[0:4]),
		EndTime:        binary.LittleEndian.Uint32(data[4:8]),
		DailyStartTime: binary.LittleEndian.Uint32(data[8:12]),
		DailyEndTime:   binary.LittleEndian.Uint32(data[12:16]),
		DeviceCount:    data[16],
		Slots:          make([]Slot, MaxDevices),
	}

	idBase := 17
	labelBase := idBase + MaxDevices*HardwareIDLen
	for i := range c.Slots {
		copy(c.Slots[i].ID[:], data[idBase+i*HardwareIDLen:])
		raw := data[labelBase+i*MaxLabelLength : labelBase+(i+1)*MaxLabelLength]
		c.Slots[i].Label = string(bytes.TrimRight(raw, "\x00"))
	}

	return c, nil
}
