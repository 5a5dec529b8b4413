package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tottag/controller/internal/codec"
	"tottag/controller/internal/faults"
)

// State is the connection lifecycle of the controller.
type State int

const (
	Idle State = iota
	Scanning
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	DefaultProductName      = "TotTag"
	DefaultScanTimeout      = 5 * time.Second
	DefaultConnectTimeout   = 3 * time.Second
	DefaultOperationTimeout = 5 * time.Second
)

type Options struct {
	ProductName      string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// Snapshot is a copy of the session safe to hand to other goroutines.
type Snapshot struct {
	State             string   `json:"state"`
	Address           string   `json:"address,omitempty"`
	RangingSubscribed bool     `json:"ranging_subscribed"`
	Downloading       bool     `json:"downloading"`
	Discovered        []Device `json:"discovered"`
}

// Session tracks the single active connection. All methods except Snapshot
// must be called from one goroutine.
type Session struct {
	log       zerolog.Logger
	transport Transport
	opts      Options

	mu          sync.Mutex
	state       State
	link        Link
	generation  uint64
	subscribed  bool
	downloading bool
	discovered  map[string]Device
}

func New(log zerolog.Logger, transport Transport, opts Options) *Session {
	if opts.ProductName == "" {
		opts.ProductName = DefaultProductName
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	return &Session{
		log:        log,
		transport:  transport,
		opts:       opts,
		discovered: map[string]Device{},
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:             s.state.String(),
		RangingSubscribed: s.subscribed,
		Downloading:       s.downloading,
		Discovered:        make([]Device, 0, len(s.discovered)),
	}
	if s.link != nil {
		snap.Address = s.link.Address()
	}
	for _, d := range s.discovered {
		snap.Discovered = append(snap.Discovered, d)
	}
	sort.Slice(snap.Discovered, func(i, j int) bool { return snap.Discovered[i].Address < snap.Discovered[j].Address })
	return snap
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address of the connected tag, or "" when idle.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return ""
	}
	return s.link.Address()
}

// Generation identifies the current link; link-lost reports carry it.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Session) RangingSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

func (s *Session) Downloading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloading
}

// Scan replaces the discovered set with the tags heard within timeout.
func (s *Session) Scan(ctx context.Context, timeout time.Duration) ([]Device, error) {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	s.mu.Lock()
	prev := s.state
	s.state = Scanning
	s.discovered = map[string]Device{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state == Scanning {
			s.state = prev
		}
		s.mu.Unlock()
	}()

	// Allow the transport its full listening window before declaring a timeout.
	devices, err := bounded(ctx, timeout+s.opts.OperationTimeout, func(ctx context.Context) ([]Device, error) {
		return s.transport.Scan(ctx, timeout, s.opts.ProductName)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	out := make([]Device, 0, len(devices))
	s.mu.Lock()
	for _, d := range devices {
		d.Address = normalizeAddress(d.Address)
		if _, dup := s.discovered[d.Address]; dup {
			continue
		}
		s.discovered[d.Address] = d
		out = append(out, d)
	}
	s.mu.Unlock()

	s.log.Debug().Int("found", len(out)).Dur("timeout", timeout).Msg("scan complete")
	return out, nil
}

// Connect opens a link to a discovered tag, dropping any existing link first.
// onLost receives the link generation so stale reports can be discarded.
func (s *Session) Connect(ctx context.Context, address string, onLost func(generation uint64)) error {
	address = normalizeAddress(address)
	if !s.isDiscovered(address) {
		return faults.Validation("tag %s has not been discovered; scan first", address)
	}
	if s.Address() != "" {
		if err := s.Disconnect(ctx); err != nil {
			s.log.Warn().Err(err).Msg("disconnect before reconnect failed")
		}
	}

	s.mu.Lock()
	s.state = Connecting
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	link, err := bounded(ctx, s.opts.ConnectTimeout, func(ctx context.Context) (Link, error) {
		return s.transport.Connect(ctx, address, func() {
			if onLost != nil {
				onLost(gen)
			}
		})
	}, discardLink)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = Idle
		return fmt.Errorf("connect %s: %w", address, err)
	}
	s.link = link
	s.state = Connected
	s.subscribed = false
	s.downloading = false
	s.log.Info().Str("address", address).Uint64("generation", gen).Msg("connected")
	return nil
}

// Disconnect closes the link if there is one. It always leaves the session idle.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	link := s.link
	s.link = nil
	s.state = Idle
	s.subscribed = false
	s.downloading = false
	// A link dropped on purpose must not be reported as lost.
	s.generation++
	s.mu.Unlock()

	if link == nil {
		return nil
	}
	_, err := bounded(ctx, s.opts.OperationTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, link.Disconnect(ctx)
	}, nil)
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", link.Address(), err)
	}
	s.log.Info().Str("address", link.Address()).Msg("disconnected")
	return nil
}

// LinkLost records a spontaneous disconnect. It reports false when generation
// refers to a link that is no longer current.
func (s *Session) LinkLost(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil || generation != s.generation {
		return false
	}
	s.log.Warn().Str("address", s.link.Address()).Msg("link lost")
	s.link = nil
	s.state = Idle
	s.subscribed = false
	s.downloading = false
	return true
}

func (s *Session) Read(ctx context.Context, ch Channel) ([]byte, error) {
	link, err := s.current()
	if err != nil {
		return nil, err
	}
	data, err := bounded(ctx, s.opts.OperationTimeout, func(ctx context.Context) ([]byte, error) {
		return link.Read(ctx, ch)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ch, err)
	}
	return data, nil
}

func (s *Session) Write(ctx context.Context, ch Channel, payload []byte) error {
	link, err := s.current()
	if err != nil {
		return err
	}
	return s.writeLink(ctx, link, ch, payload)
}

func (s *Session) SubscribeRanges(ctx context.Context, sink func([]byte)) error {
	link, err := s.current()
	if err != nil {
		return err
	}
	if err := s.subscribe(ctx, link, ChannelRanging, sink); err != nil {
		return err
	}
	s.mu.Lock()
	s.subscribed = true
	s.mu.Unlock()
	return nil
}

// UnsubscribeRanges clears the flag even if the tag rejects the request.
func (s *Session) UnsubscribeRanges(ctx context.Context) error {
	s.mu.Lock()
	s.subscribed = false
	link := s.link
	s.mu.Unlock()
	if link == nil {
		return nil
	}
	return s.unsubscribe(ctx, link, ChannelRanging)
}

// BeginDownload subscribes to maintenance data and asks the tag to send its log.
func (s *Session) BeginDownload(ctx context.Context, sink func([]byte)) error {
	link, err := s.current()
	if err != nil {
		return err
	}
	if err := s.subscribe(ctx, link, ChannelData, sink); err != nil {
		return err
	}
	if err := s.writeLink(ctx, link, ChannelCommand, codec.DownloadCommand()); err != nil {
		if uerr := s.unsubscribe(ctx, link, ChannelData); uerr != nil {
			s.log.Debug().Err(uerr).Msg("unsubscribe after failed download request")
		}
		return err
	}
	s.mu.Lock()
	s.downloading = true
	s.mu.Unlock()
	return nil
}

// EndDownload clears the flag even if the tag rejects the request.
func (s *Session) EndDownload(ctx context.Context) error {
	s.mu.Lock()
	s.downloading = false
	link := s.link
	s.mu.Unlock()
	if link == nil {
		return nil
	}
	return s.unsubscribe(ctx, link, ChannelData)
}

// Dial returns a link to address for a short exchange. The active link is
// reused when it matches; release closes only links Dial opened itself.
func (s *Session) Dial(ctx context.Context, address string) (Link, func(context.Context), error) {
	address = normalizeAddress(address)
	s.mu.Lock()
	active := s.link
	s.mu.Unlock()
	if active != nil && active.Address() == address {
		return active, func(context.Context) {}, nil
	}
	if !s.isDiscovered(address) {
		return nil, nil, faults.Validation("tag %s has not been discovered; scan first", address)
	}

	link, err := bounded(ctx, s.opts.ConnectTimeout, func(ctx context.Context) (Link, error) {
		return s.transport.Connect(ctx, address, func() {})
	}, discardLink)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", address, err)
	}
	release := func(ctx context.Context) {
		if _, err := bounded(ctx, s.opts.OperationTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, link.Disconnect(ctx)
		}, nil); err != nil {
			s.log.Debug().Err(err).Str("address", address).Msg("release dialed link")
		}
	}
	return link, release, nil
}

// WriteTo writes through a link obtained from Dial.
func (s *Session) WriteTo(ctx context.Context, link Link, ch Channel, payload []byte) error {
	return s.writeLink(ctx, link, ch, payload)
}

func (s *Session) writeLink(ctx context.Context, link Link, ch Channel, payload []byte) error {
	_, err := bounded(ctx, s.opts.OperationTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, link.Write(ctx, ch, payload)
	}, nil)
	if err != nil {
		return fmt.Errorf("write %s: %w", ch, err)
	}
	return nil
}

func (s *Session) subscribe(ctx context.Context, link Link, ch Channel, sink func([]byte)) error {
	_, err := bounded(ctx, s.opts.OperationTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, link.Subscribe(ctx, ch, sink)
	}, nil)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ch, err)
	}
	return nil
}

func (s *Session) unsubscribe(ctx context.Context, link Link, ch Channel) error {
	_, err := bounded(ctx, s.opts.OperationTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, link.Unsubscribe(ctx, ch)
	}, nil)
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", ch, err)
	}
	return nil
}

func (s *Session) current() (Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return nil, fmt.Errorf("%w: not connected to a tag", faults.ErrCommunication)
	}
	return s.link, nil
}

func (s *Session) isDiscovered(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.discovered[address]
	return ok
}

func normalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

func discardLink(l Link) {
	if l == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultOperationTimeout)
	defer cancel()
	_ = l.Disconnect(ctx)
}

type result[T any] struct {
	val T
	err error
}

// bounded runs fn with a deadline and classifies its failure. If fn returns
// after the deadline, late is handed any value it produced.
func bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error), late func(T)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil {
			return zero, classify(ctx, r.err)
		}
		return r.val, nil
	case <-ctx.Done():
		if late != nil {
			go func() {
				if r := <-done; r.err == nil {
					late(r.val)
				}
			}()
		}
		return zero, classify(ctx, ctx.Err())
	}
}

func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, faults.ErrCommunication), errors.Is(err, faults.ErrValidation), errors.Is(err, faults.ErrDecode):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", faults.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", faults.ErrCommunication, err)
	}
}
