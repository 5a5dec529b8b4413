package naming

import (
	"fmt"
	"strings"
	"unicode"

	"tottag/controller/internal/codec"
	"tottag/controller/internal/faults"
)

// NormalizeLabel trims an operator-supplied label and checks it fits a configuration slot.
func NormalizeLabel(raw string) (string, error) {
	label := strings.TrimSpace(raw)
	for _, r := range label {
		if r == 0 || unicode.IsControl(r) {
			return "", faults.Validation("label %q contains control characters", raw)
		}
	}
	if len(label) > codec.MaxLabelLength {
		return "", faults.Validation("label %q is %d bytes, at most %d allowed", label, len(label), codec.MaxLabelLength)
	}
	return label, nil
}

// Fallback renders a peer byte the way it is shown when no label is known.
func Fallback(peer byte) string {
	return fmt.Sprintf("%02X", peer)
}

// Index resolves ranging peers to configured labels.
//
// Log entries carry only the low octet of a peer address, so two configured tags
// sharing that octet collide; the later slot wins.
type Index struct {
	labels map[byte]string
}

func NewIndex(cfg codec.Configuration) *Index {
	idx := &Index{labels: make(map[byte]string, cfg.DeviceCount)}
	for _, s := range cfg.Devices() {
		label := s.Label
		if label == "" {
			label = Fallback(s.ID.LowByte())
		}
		idx.labels[s.ID.LowByte()] = label
	}
	return idx
}

// Lookup returns the label for a peer byte, falling back to its hex form.
func (i *Index) Lookup(peer byte) string {
	if i != nil {
		if label, ok := i.labels[peer]; ok {
			return label
		}
	}
	return Fallback(peer)
}

// FileName turns a label into a safe archive file stem.
func FileName(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range label {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case unicode.IsSpace(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return "unknown"
	}
	return out
}
