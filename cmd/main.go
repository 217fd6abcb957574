package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	grpcapi "speech-to-notion/internal/api/grpc"
	"speech-to-notion/internal/app"
	"speech-to-notion/internal/config"
	"speech-to-notion/internal/events"
	httpapi "speech-to-notion/internal/http"
	"speech-to-notion/internal/observability"
	"speech-to-notion/internal/observability/metrics"
	"speech-to-notion/internal/relay"
	"speech-to-notion/internal/schema"
	"speech-to-notion/internal/service/document"
	"speech-to-notion/internal/service/strategy"
	"speech-to-notion/internal/service/stt"
	"speech-to-notion/internal/service/stt/gladia"
	"speech-to-notion/internal/service/stt/google"
	"speech-to-notion/internal/service/stt/mock"
	"speech-to-notion/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()
	application := app.New(cfg)
	if err := application.Start(); err != nil {
		os.Exit(1)
	}
	if err := run(application); err != nil {
		log.Error().Err(err).Msg("service stopped with error")
		os.Exit(1)
	}
}

func run(application *app.Application) error {
	cfg := application.Cfg
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.DefaultMetrics

	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
		Metrics:      m,
	})
	defer publisher.Close()

	cursors, err := newCursorStore(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer cursors.Close()

	docs := document.NewClient(document.Config{
		APIKey:        cfg.Document.APIKey,
		APIURL:        cfg.Document.APIURL,
		Version:       cfg.Document.Version,
		PageURLPrefix: cfg.Document.PageURLPrefix,
	})

	factory, batchClient := newStrategyFactory(cfg, m)

	hub := relay.NewHub(m)
	relayHandler := relay.NewHandler(relay.SessionDeps{
		Strategies: factory,
		Documents:  docs,
		Store:      cursors,
		Hub:        hub,
		Publisher:  publisher,
		StartText:  cfg.Document.StartText,
		Metrics:    m,
	}, schema.New())

	obs := observability.NewServer(":" + cfg.Service.MetricsPort)
	grpcServer := grpcapi.NewServer()

	httpServer := &http.Server{
		Addr: ":" + cfg.Service.HTTPPort,
		Handler: httpapi.NewRouter(httpapi.Deps{
			App:           application,
			Relay:         relayHandler,
			Documents:     docs,
			Transcription: batchClient,
			Cursors:       cursors,
			Ready:         func() bool { return ctx.Err() == nil },
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcLis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Str("strategy", string(factory.Kind)).Msg("relay server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return grpcServer.Serve(grpcLis)
	})
	g.Go(obs.ListenAndServe)

	obs.SetReady(true)
	grpcServer.SetServing(true)

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		obs.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.Shutdown()
		// Hijacked relay sockets are not tracked by the HTTP server; closing
		// the hub closes them and ends their sessions.
		err := httpServer.Shutdown(shutdownCtx)
		stopHub()
		relayHandler.Wait()
		if oerr := obs.Shutdown(shutdownCtx); err == nil {
			err = oerr
		}
		application.Shutdown()
		return err
	})

	return g.Wait()
}

func newCursorStore(ctx context.Context, cfg config.RedisConfig) (store.CursorStore, error) {
	if cfg.Addr == "" {
		log.Info().Msg("cursor snapshots kept in memory")
		return store.NewMemoryCursorStore(cfg.CursorTTL), nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s, err := store.NewRedisCursorStore(pingCtx, store.RedisConfig{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		KeyPrefix: cfg.KeyPrefix,
		TTL:       cfg.CursorTTL,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", cfg.Addr).Msg("cursor snapshots stored in redis")
	return s, nil
}

// newStrategyFactory maps the configured provider onto live streams and an
// optional batch client. Google has no batch API here.
func newStrategyFactory(cfg *config.Configuration, m *metrics.Metrics) (*strategy.Factory, stt.BatchClient) {
	sc := cfg.STT
	f := &strategy.Factory{
		Kind:     strategy.Kind(sc.Strategy),
		Provider: sc.Provider,
		Metrics:  m,
		BatchOpts: strategy.BatchOptions{
			Language:         sc.LanguageCode,
			ContextHint:      sc.ContextHint,
			MinSpeakers:      sc.MinSpeakers,
			MaxSpeakers:      sc.MaxSpeakers,
			NumberOfSpeakers: sc.NumberOfSpeakers,
			PollInterval:     sc.PollInterval,
			PollMaxAttempts:  sc.PollMaxAttempts,
		},
	}

	switch sc.Provider {
	case config.ProviderGladia:
		client := gladia.NewClient(gladia.Config{APIKey: sc.APIKey, APIURL: sc.APIURL})
		f.Batch = client
		f.NewStream = func(ctx context.Context, sessionID string) (stt.Stream, error) {
			return gladia.NewStream(gladia.StreamOptions{
				URL:       sc.LiveURL,
				APIKey:    sc.APIKey,
				SessionID: sessionID,
				Config: stt.StreamConfig{
					SampleRateHz:      sc.SampleRateHz,
					Encoding:          sc.AudioEncoding,
					LanguageBehaviour: sc.LanguageBehaviour,
					Language:          sc.LanguageCode,
					ContextHint:       sc.ContextHint,
					InterimResults:    sc.InterimResults,
				},
			}), nil
		}
		return f, client

	case config.ProviderGoogle:
		f.NewStream = func(ctx context.Context, sessionID string) (stt.Stream, error) {
			a, err := google.New(ctx, sessionID, google.Config{
				LanguageCode:    sc.LanguageCode,
				SampleRateHz:    sc.SampleRateHz,
				InterimResults:  sc.InterimResults,
				AudioEncoding:   sc.AudioEncoding,
				CredentialsFile: sc.CredentialsFile,
			})
			if err != nil {
				return nil, err
			}
			return a, nil
		}
		return f, nil

	default:
		opts := mock.Options{Language: sc.LanguageCode, Delay: 100 * time.Millisecond}
		batch := mock.NewWithOptions(opts)
		f.Batch = batch
		f.NewStream = func(ctx context.Context, sessionID string) (stt.Stream, error) {
			return mock.NewWithOptions(opts), nil
		}
		return f, batch
	}
}
