package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tottag/controller/internal/codec"
	"tottag/controller/internal/events"
	"tottag/controller/internal/faults"
	"tottag/controller/internal/metrics"
	"tottag/controller/internal/queue"
	"tottag/controller/internal/reassembly"
	"tottag/controller/internal/schedule"
	"tottag/controller/internal/session"
)

// Archiver persists a completed download and reports where it went.
//
// store.FileArchive and store.PGArchive satisfy this.
type Archiver interface {
	Name() string
	Save(ctx context.Context, dl reassembly.Download, directory string) (string, error)
}

// Worker is the single consumer of operator intents. It alone drives the
// session and the reassembly engine.
type Worker struct {
	log         zerolog.Logger
	session     *session.Session
	engine      *reassembly.Engine
	events      *events.Stream
	archivers   []Archiver
	metrics     *metrics.Metrics
	pending     *queue.Queue[message]
	scanWindow  time.Duration
	directory   string
	timezone    string
	now         func() time.Time
	newID       func() string
	teardownTTL time.Duration

	// intent ids that notifications are reported under
	rangesIntent   string
	downloadIntent string
	downloadDir    string

	// downloadGen numbers each download; data notifications and finalize
	// requests carrying another number belong to a superseded transfer.
	downloadGen uint64
}

type Options struct {
	ScanWindow time.Duration
	// Directory receives file archives when a download intent names none.
	Directory string
	// Timezone renders configuration read-backs when an intent names none.
	Timezone string
	Now      func() time.Time
}

func New(log zerolog.Logger, sess *session.Session, stream *events.Stream, archivers []Archiver, opts Options, m *metrics.Metrics) *Worker {
	sw := opts.ScanWindow
	if sw <= 0 {
		sw = session.DefaultScanTimeout
	}
	dir := strings.TrimSpace(opts.Directory)
	if dir == "" {
		dir = "."
	}
	tz := strings.TrimSpace(opts.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Worker{
		log:         log,
		session:     sess,
		engine:      reassembly.New(),
		events:      stream,
		archivers:   archivers,
		metrics:     m,
		pending:     queue.New[message](),
		scanWindow:  sw,
		directory:   dir,
		timezone:    tz,
		now:         now,
		newID:       func() string { return uuid.NewString() },
		teardownTTL: 5 * time.Second,
	}
}

// Submit validates an intent's kind, assigns an id if missing and queues it.
func (w *Worker) Submit(in Intent) (Intent, error) {
	kind, err := ParseKind(string(in.Kind))
	if err != nil {
		return Intent{}, err
	}
	in.Kind = kind
	if strings.TrimSpace(in.ID) == "" {
		in.ID = w.newID()
	}
	w.pending.Push(message{intent: in})
	return in, nil
}

// Pending is the number of queued messages not yet handled.
func (w *Worker) Pending() int {
	return w.pending.Len()
}

// Run handles messages until a quit intent or ctx ends.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.session == nil {
		return
	}
	w.log.Info().Msg("dispatcher started")
	defer w.log.Info().Msg("dispatcher stopped")

	for {
		msg, err := w.pending.Pop(ctx)
		if err != nil {
			w.shutdown()
			return
		}
		if quit := w.handle(ctx, msg); quit {
			return
		}
		w.metrics.SetSessionState(w.session.State().String())
	}
}

func (w *Worker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), w.teardownTTL)
	defer cancel()
	w.teardown(ctx, Intent{})
	if err := w.session.Disconnect(ctx); err != nil {
		w.log.Warn().Err(err).Msg("disconnect on shutdown failed")
	}
}

func (w *Worker) handle(ctx context.Context, msg message) bool {
	in := msg.intent
	if in.Kind.internal() {
		w.handleInternal(ctx, msg)
		return false
	}

	if in.Kind.tearsDown() {
		w.teardown(ctx, in)
	}

	start := time.Now()
	log := w.log.With().Str("intent_id", in.ID).Str("kind", string(in.Kind)).Logger()
	log.Debug().Msg("intent started")

	var err error
	switch in.Kind {
	case KindScan:
		err = w.scan(ctx, in)
	case KindConnect:
		err = w.connect(ctx, in)
	case KindDisconnect:
		err = w.disconnect(ctx, in)
	case KindSubscribe:
		err = w.subscribe(ctx, in)
	case KindUnsubscribe:
		err = w.unsubscribe(ctx)
	case KindFind:
		err = w.find(ctx, in)
	case KindTimestamp:
		err = w.timestamp(ctx, in)
	case KindVoltage:
		err = w.voltage(ctx, in)
	case KindConfigure:
		err = w.configure(ctx, in)
	case KindReadConfiguration:
		err = w.readConfiguration(ctx, in)
	case KindDeleteConfiguration:
		err = w.deleteConfiguration(ctx, in)
	case KindDownload:
		err = w.download(ctx, in)
	case KindDownloadFinalize:
		if msg.generation != 0 && msg.generation != w.downloadGen {
			log.Debug().Uint64("generation", msg.generation).Msg("finalize for a superseded download ignored")
		} else if w.engine.Active() {
			w.finalizeDownload(ctx, in.ID)
		}
	case KindQuit:
		w.quit(ctx, in)
	}

	outcome := "ok"
	if err != nil {
		outcome = faults.Category(err)
		log.Warn().Err(err).Str("category", outcome).Msg("intent failed")
		w.fail(in, err)
	}
	w.metrics.ObserveIntent(string(in.Kind), outcome, time.Since(start))
	return in.Kind == KindQuit
}

// teardown stops ranging and closes out any download before the next operator action.
func (w *Worker) teardown(ctx context.Context, in Intent) {
	if w.session.RangingSubscribed() {
		if err := w.session.UnsubscribeRanges(ctx); err != nil {
			w.log.Debug().Err(err).Msg("unsubscribe during teardown")
		}
		w.rangesIntent = ""
	}
	if w.engine.Active() || w.session.Downloading() {
		w.finalizeDownload(ctx, in.ID)
	}
}

func (w *Worker) fail(in Intent, err error) {
	w.events.Emit(events.KindError, in.ID, events.Error{
		Category: faults.Category(err),
		Detail:   err.Error(),
		Intent:   string(in.Kind),
	})
}

func (w *Worker) emit(in Intent, kind events.Kind, data any) {
	w.events.Emit(kind, in.ID, data)
}

func (w *Worker) scan(ctx context.Context, in Intent) error {
	preset := canonicalizeScanPreset(in.Preset)
	window := scanWindow(w.scanWindow, preset)

	w.emit(in, events.KindScanning, events.Flag{Active: true})
	devices, err := w.session.Scan(ctx, window)
	for _, d := range devices {
		w.emit(in, events.KindDevice, events.Device{Address: d.Address, Name: d.Name})
	}
	w.emit(in, events.KindScanning, events.Flag{Active: false})
	if err != nil {
		return err
	}
	w.log.Info().Str("preset", preset).Dur("window", window).Int("found", len(devices)).Msg("scan finished")
	return nil
}

func (w *Worker) connect(ctx context.Context, in Intent) error {
	if strings.TrimSpace(in.Address) == "" {
		return faults.Validation("connect needs an address")
	}
	w.emit(in, events.KindConnecting, events.Flag{Active: true})
	if err := w.session.Connect(ctx, in.Address, w.linkLost); err != nil {
		w.emit(in, events.KindConnecting, events.Flag{Active: false})
		return err
	}
	w.emit(in, events.KindConnected, events.Link{Address: w.session.Address()})
	return nil
}

// linkLost runs on a transport goroutine.
func (w *Worker) linkLost(generation uint64) {
	w.pending.PushFront(message{intent: Intent{Kind: kindLinkLost}, generation: generation})
}

func (w *Worker) disconnect(ctx context.Context, in Intent) error {
	addr := w.session.Address()
	err := w.session.Disconnect(ctx)
	if addr != "" {
		w.emit(in, events.KindDisconnected, events.Link{Address: addr})
	}
	return err
}

func (w *Worker) subscribe(ctx context.Context, in Intent) error {
	err := w.session.SubscribeRanges(ctx, func(payload []byte) {
		w.pending.Push(message{intent: Intent{Kind: kindRangesNotification}, payload: payload})
	})
	if err != nil {
		return err
	}
	w.rangesIntent = in.ID
	return nil
}

func (w *Worker) unsubscribe(ctx context.Context) error {
	w.rangesIntent = ""
	if !w.session.RangingSubscribed() {
		return nil
	}
	return w.session.UnsubscribeRanges(ctx)
}

func (w *Worker) find(ctx context.Context, in Intent) error {
	w.emit(in, events.KindRetrieving, events.Flag{Active: true})
	if err := w.session.Write(ctx, session.ChannelFind, codec.EncodeFindBeacon(codec.FindBeaconSeconds)); err != nil {
		return err
	}
	w.emit(in, events.KindRetrieving, events.Flag{Active: false})
	return nil
}

func (w *Worker) timestamp(ctx context.Context, in Intent) error {
	w.emit(in, events.KindRetrieving, events.Flag{Active: true})
	data, err := w.session.Read(ctx, session.ChannelTimestamp)
	if err != nil {
		return err
	}
	ts, err := codec.DecodeTimestamp(data)
	if err != nil {
		return err
	}
	w.emit(in, events.KindTimestamp, events.Timestamp{Epoch: ts, UTC: time.Unix(int64(ts), 0).UTC()})
	return nil
}

func (w *Worker) voltage(ctx context.Context, in Intent) error {
	w.emit(in, events.KindRetrieving, events.Flag{Active: true})
	data, err := w.session.Read(ctx, session.ChannelVoltage)
	if err != nil {
		return err
	}
	mv, err := codec.DecodeVoltage(data)
	if err != nil {
		return err
	}
	w.emit(in, events.KindVoltage, events.Voltage{Millivolts: mv})
	return nil
}

// configure writes one deployment to every target. Targets that cannot be
// reached are reported individually; the rest are still configured.
func (w *Worker) configure(ctx context.Context, in Intent) error {
	if in.Schedule == nil {
		return faults.Validation("configure needs a schedule")
	}
	plan, err := schedule.Build(*in.Schedule)
	if err != nil {
		return err
	}
	wire, err := codec.EncodeConfiguration(plan.Configuration)
	if err != nil {
		return err
	}

	w.emit(in, events.KindScheduling, events.Scheduling{Active: true, Targets: plan.Targets})
	var unreachable []string
	for _, target := range plan.Targets {
		if err := w.configureTarget(ctx, target, wire); err != nil {
			w.log.Warn().Err(err).Str("address", target).Msg("configure target failed")
			unreachable = append(unreachable, target)
			w.emit(in, events.KindSchedulingFailure, events.SchedulingFailure{
				Address:  target,
				Category: faults.Category(err),
				Detail:   err.Error(),
			})
		}
	}
	w.emit(in, events.KindScheduled, events.Scheduled{Success: len(unreachable) == 0, Unreachable: unreachable})
	return nil
}

func (w *Worker) configureTarget(ctx context.Context, target string, wire []byte) error {
	link, release, err := w.session.Dial(ctx, target)
	if err != nil {
		return err
	}
	defer release(ctx)

	if err := w.session.WriteTo(ctx, link, session.ChannelTimestamp, codec.EncodeTimestamp(w.epoch())); err != nil {
		return err
	}
	return w.session.WriteTo(ctx, link, session.ChannelCommand, wire)
}

func (w *Worker) readConfiguration(ctx context.Context, in Intent) error {
	w.emit(in, events.KindRetrieving, events.Flag{Active: true})
	data, err := w.session.Read(ctx, session.ChannelConfiguration)
	if err != nil {
		return err
	}
	cfg, err := codec.DecodeConfiguration(data)
	if err != nil {
		return err
	}
	tz := in.Timezone
	if strings.TrimSpace(tz) == "" {
		tz = w.timezone
	}
	view, err := schedule.Describe(cfg, tz)
	if err != nil {
		return err
	}
	w.emit(in, events.KindConfiguration, events.Configuration{Address: w.session.Address(), Configuration: cfg, View: view})
	return nil
}

func (w *Worker) deleteConfiguration(ctx context.Context, in Intent) error {
	w.emit(in, events.KindRetrieving, events.Flag{Active: true})
	if err := w.session.Write(ctx, session.ChannelTimestamp, codec.EncodeTimestamp(w.epoch())); err != nil {
		return err
	}
	if err := w.session.Write(ctx, session.ChannelCommand, codec.DeleteCommand()); err != nil {
		return err
	}
	w.emit(in, events.KindDeleted, events.Deleted{Address: w.session.Address()})
	return nil
}

func (w *Worker) download(ctx context.Context, in Intent) error {
	addr := w.session.Address()
	if addr == "" {
		return fmt.Errorf("%w: download needs a connected tag", faults.ErrCommunication)
	}
	dir := strings.TrimSpace(in.Directory)
	if dir == "" {
		dir = w.directory
	}

	w.downloadGen++
	gen := w.downloadGen
	w.engine.Begin(addr)
	err := w.session.BeginDownload(ctx, func(payload []byte) {
		w.pending.Push(message{intent: Intent{Kind: kindDataNotification}, payload: payload, generation: gen})
	})
	if err != nil {
		w.engine.Abort()
		return err
	}
	w.downloadIntent = in.ID
	w.downloadDir = dir
	w.log.Info().Str("address", addr).Str("directory", dir).Msg("log download started")
	return nil
}

// finalizeDownload ends the transfer, reports it and hands complete logs to every archiver.
func (w *Worker) finalizeDownload(ctx context.Context, intentID string) {
	if err := w.session.EndDownload(ctx); err != nil {
		w.log.Debug().Err(err).Msg("end download")
	}
	id := w.downloadIntent
	if id == "" {
		id = intentID
	}
	dir := w.downloadDir
	w.downloadIntent, w.downloadDir = "", ""

	if !w.engine.Active() {
		return
	}
	source := w.engine.Source()
	dl, err := w.engine.Finalize()
	if err != nil {
		outcome := "failed"
		if errors.Is(err, faults.ErrTruncated) {
			outcome = "truncated"
		}
		w.metrics.ObserveDownload(outcome, 0)
		w.events.Emit(events.KindDownloaded, id, events.Downloaded{Address: source, Complete: false})
		w.events.Emit(events.KindError, id, events.Error{
			Category: faults.Category(err),
			Detail:   err.Error(),
			Intent:   string(KindDownload),
		})
		w.log.Warn().Err(err).Str("address", source).Msg("log download incomplete")
		return
	}

	w.metrics.ObserveDownload("complete", dl.Bytes)
	w.events.Emit(events.KindDownloaded, id, events.Downloaded{
		Address:  source,
		Complete: true,
		Label:    dl.Label,
		Entries:  len(dl.Entries),
		Bytes:    dl.Bytes,
	})
	w.log.Info().Str("address", source).Str("label", dl.Label).Int("entries", len(dl.Entries)).Msg("log download complete")

	for _, a := range w.archivers {
		location, err := a.Save(ctx, dl, dir)
		if err != nil {
			w.log.Error().Err(err).Str("archive", a.Name()).Msg("archive download failed")
			w.events.Emit(events.KindError, id, events.Error{
				Category: faults.Category(err),
				Detail:   fmt.Sprintf("%s archive: %v", a.Name(), err),
				Intent:   string(KindDownload),
			})
			continue
		}
		w.events.Emit(events.KindDownloadSaved, id, events.DownloadSaved{Archive: a.Name(), Location: location})
	}
}

func (w *Worker) quit(ctx context.Context, in Intent) {
	addr := w.session.Address()
	if err := w.session.Disconnect(ctx); err != nil {
		w.log.Warn().Err(err).Msg("disconnect on quit failed")
	}
	if addr != "" {
		w.emit(in, events.KindDisconnected, events.Link{Address: addr})
	}
}

func (w *Worker) handleInternal(ctx context.Context, msg message) {
	switch msg.intent.Kind {
	case kindRangesNotification:
		if !w.session.RangingSubscribed() {
			return
		}
		ranges, err := codec.DecodeRangeNotification(msg.payload)
		if err != nil {
			w.events.Emit(events.KindError, w.rangesIntent, events.Error{Category: faults.Category(err), Detail: err.Error(), Intent: string(KindSubscribe)})
			return
		}
		w.events.Emit(events.KindRanges, w.rangesIntent, events.Ranges{Address: w.session.Address(), Ranges: ranges})

	case kindDataNotification:
		if !w.engine.Active() || msg.generation != w.downloadGen {
			w.log.Debug().Int("bytes", len(msg.payload)).Uint64("generation", msg.generation).Msg("data notification for no active download; dropped")
			return
		}
		if w.engine.Receiving() && codec.IsDownloadComplete(msg.payload) {
			// The tag signalled the end; finish behind anything already queued.
			w.pending.Push(message{intent: Intent{ID: w.newID(), Kind: KindDownloadFinalize}, generation: msg.generation})
			return
		}
		p, err := w.engine.Feed(msg.payload)
		if err != nil {
			w.events.Emit(events.KindError, w.downloadIntent, events.Error{Category: faults.Category(err), Detail: err.Error(), Intent: string(KindDownload)})
			w.metrics.ObserveDownload("failed", 0)
			if err := w.session.EndDownload(ctx); err != nil {
				w.log.Debug().Err(err).Msg("end download after bad chunk")
			}
			w.downloadIntent, w.downloadDir = "", ""
			return
		}
		if p.Stage != reassembly.StageConfiguration {
			w.events.Emit(events.KindLogProgress, w.downloadIntent, events.LogProgress{Stage: p.Stage.String(), Offset: p.Offset, Total: p.Total})
		}

	case kindLinkLost:
		addr := w.session.Address()
		if !w.session.LinkLost(msg.generation) {
			w.log.Debug().Uint64("generation", msg.generation).Msg("stale link-lost ignored")
			return
		}
		w.rangesIntent = ""
		w.events.Emit(events.KindDisconnected, "", events.Link{Address: addr, Lost: true})
		if w.engine.Active() {
			w.finalizeDownload(ctx, "")
		}
	}
	w.metrics.SetSessionState(w.session.State().String())
}

func (w *Worker) epoch() uint32 {
	return uint32(w.now().Unix())
}
