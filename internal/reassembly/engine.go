package reassembly

import (
	"encoding/binary"
	"fmt"

	"tottag/controller/internal/codec"
	"tottag/controller/internal/faults"
	"tottag/controller/internal/naming"
)

// maxPrealloc bounds the buffer reserved from an untrusted header length.
const maxPrealloc = 1 << 20

// Stage says which part of a download a chunk filled.
type Stage int

const (
	StageHeader Stage = iota + 1
	StageConfiguration
	StageData
)

func (s Stage) String() string {
	switch s {
	case StageHeader:
		return "header"
	case StageConfiguration:
		return "configuration"
	case StageData:
		return "data"
	default:
		return "unknown"
	}
}

// Progress is reported after every chunk.
type Progress struct {
	Stage  Stage
	Offset int
	Total  int
}

// Engine rebuilds one log download from maintenance-data notifications.
// It is not safe for concurrent use; the dispatcher worker owns it.
type Engine struct {
	active    bool
	source    string
	haveTotal bool
	total     int
	buf       []byte
	offset    int
	config    *codec.Configuration
}

func New() *Engine {
	return &Engine{}
}

// Begin discards any previous state and arms the engine for a download from source.
func (e *Engine) Begin(source string) {
	*e = Engine{active: true, source: source}
}

func (e *Engine) Active() bool {
	return e.active
}

// Receiving reports whether the header and configuration snapshot have both
// arrived, so the next chunks are log data or the completion sentinel.
func (e *Engine) Receiving() bool {
	return e.active && e.haveTotal && e.config != nil
}

// Source is the address of the tag currently being downloaded.
func (e *Engine) Source() string {
	return e.source
}

// Feed consumes one notification payload. The first chunk declares the total
// length, the second carries the configuration snapshot, the rest are data.
// The completion sentinel is not passed here; callers finalize instead.
func (e *Engine) Feed(chunk []byte) (Progress, error) {
	if !e.active {
		return Progress{}, fmt.Errorf("%w: data notification with no download in progress", faults.ErrCommunication)
	}

	switch {
	case !e.haveTotal:
		if len(chunk) < 4 {
			e.Abort()
			return Progress{}, faults.Decode("download header is %d bytes, need 4", len(chunk))
		}
		e.total = int(binary.LittleEndian.Uint32(chunk[:4]))
		e.haveTotal = true
		e.buf = make([]byte, 0, min(e.total, maxPrealloc))
		e.offset = 0
		return Progress{Stage: StageHeader, Offset: 0, Total: e.total}, nil

	case e.config == nil:
		cfg, err := codec.DecodeConfiguration(chunk)
		if err != nil {
			e.Abort()
			return Progress{}, fmt.Errorf("download configuration snapshot: %w", err)
		}
		e.config = &cfg
		return Progress{Stage: StageConfiguration, Offset: e.offset, Total: e.total}, nil

	default:
		e.buf = append(e.buf, chunk...)
		e.offset += len(chunk)
		return Progress{Stage: StageData, Offset: e.offset, Total: e.total}, nil
	}
}

// Abort drops the download without producing a result.
func (e *Engine) Abort() {
	*e = Engine{}
}

// Finalize ends the download. A download whose received length differs from
// the declared total is reported as truncated and its buffer discarded.
func (e *Engine) Finalize() (Download, error) {
	if !e.active {
		return Download{}, fmt.Errorf("%w: no download in progress", faults.ErrCommunication)
	}
	source, total, offset, buf, cfg := e.source, e.total, e.offset, e.buf, e.config
	haveTotal := e.haveTotal
	e.Abort()

	switch {
	case !haveTotal:
		return Download{Source: source}, fmt.Errorf("%w: no data received", faults.ErrTruncated)
	case cfg == nil:
		return Download{Source: source}, fmt.Errorf("%w: configuration snapshot never arrived", faults.ErrTruncated)
	case offset != total:
		return Download{Source: source}, fmt.Errorf("%w: received %d of %d bytes", faults.ErrTruncated, offset, total)
	}

	records, err := codec.DecodeLogStream(buf)
	if err != nil {
		return Download{Source: source}, fmt.Errorf("decode log stream: %w", err)
	}

	index := naming.NewIndex(*cfg)
	return Download{
		Source:        source,
		Label:         sourceLabel(index, source),
		Configuration: *cfg,
		Entries:       Merge(records, index),
		Bytes:         total,
	}, nil
}

func sourceLabel(index *naming.Index, source string) string {
	id, err := codec.ParseHardwareID(source)
	if err != nil {
		return naming.FileName(source)
	}
	return index.Lookup(id.LowByte())
}
