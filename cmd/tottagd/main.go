package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tottag/controller/internal/config"
	"tottag/controller/internal/db"
	"tottag/controller/internal/dispatcher"
	"tottag/controller/internal/events"
	"tottag/controller/internal/httpapi"
	"tottag/controller/internal/metrics"
	"tottag/controller/internal/publish"
	"tottag/controller/internal/session"
	"tottag/controller/internal/store"
	"tottag/controller/internal/transport/ble"
)

func main() {
	configPath := flag.String("config", "", "optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		httpapi.NewLogger("info").Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := httpapi.NewLogger(cfg.LogLevel)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := ble.New(logger.With().Str("component", "ble").Logger())
	if err := transport.Enable(); err != nil {
		logger.Fatal().Err(err).Msg("failed to enable bluetooth adapter")
	}
	sess := session.New(logger.With().Str("component", "session").Logger(), transport, session.Options{
		ProductName:      cfg.BLE.ProductName,
		ConnectTimeout:   cfg.BLE.ConnectTimeout,
		OperationTimeout: cfg.BLE.OperationTimeout,
	})

	stream := events.NewStream(logger.With().Str("component", "events").Logger(), m)

	archivers := []dispatcher.Archiver{store.NewFileArchive(cfg.Storage.Directory)}
	var pool *db.Pool
	if cfg.Database.URL != "" {
		p, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		if err := p.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}
		pool = p
		archivers = append(archivers, store.NewPGArchive(pool, pool.Queries()))
	}

	worker := dispatcher.New(logger.With().Str("component", "dispatcher").Logger(), sess, stream, archivers, dispatcher.Options{
		ScanWindow: cfg.BLE.ScanWindow,
		Directory:  cfg.Storage.Directory,
		Timezone:   cfg.Storage.Timezone,
	}, m)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Subscribers must exist before the stream starts so no early event is missed.
	startForwarders(runCtx, logger, cfg, stream)
	go stream.Run(runCtx)

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		worker.Run(runCtx)
	}()

	opts := httpapi.Options{
		Dispatcher: worker,
		Session:    sess,
		Events:     stream,
		Metrics:    m,
	}
	if pool != nil {
		opts.DB = pool
		opts.Downloads = pool.Queries()
	}
	h := httpapi.NewHandler(logger, opts)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("tottagd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	select {
	case <-ctx.Done():
	case <-dispatcherDone:
		logger.Info().Msg("quit requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	cancelRun()
	<-dispatcherDone
	logger.Info().Msg("shutdown complete")
}

func startForwarders(ctx context.Context, logger zerolog.Logger, cfg config.Config, stream *events.Stream) {
	if cfg.MQTT.URL != "" {
		log := logger.With().Str("component", "mqtt").Logger()
		pub, err := publish.DialMQTT(log, publish.MQTTOptions{
			URL:      cfg.MQTT.URL,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		})
		if err != nil {
			log.Error().Err(err).Msg("mqtt forwarding disabled")
		} else {
			sub := stream.Subscribe("mqtt", events.DefaultBuffer)
			go publish.NewForwarder(log, pub, publish.MQTTTopic(cfg.MQTT.TopicPrefix)).Run(ctx, sub)
		}
	}
	if cfg.NATS.URL != "" {
		log := logger.With().Str("component", "nats").Logger()
		pub, err := publish.DialNATS(log, cfg.NATS.URL)
		if err != nil {
			log.Error().Err(err).Msg("nats forwarding disabled")
		} else {
			sub := stream.Subscribe("nats", events.DefaultBuffer)
			go publish.NewForwarder(log, pub, publish.NATSSubject(cfg.NATS.SubjectPrefix)).Run(ctx, sub)
		}
	}
}
