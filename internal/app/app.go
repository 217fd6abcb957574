package app

import (
	"time"

	"github.com/rs/zerolog"

	"speech-to-notion/internal/config"
	"speech-to-notion/internal/observability/logging"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
}

// New constructs a new Application from the provided configuration and
// installs the global logger.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	a.Logger.Info().
		Str("method", "New").
		Str("strategy", cfg.STT.Strategy).
		Str("sttProvider", cfg.STT.Provider).
		Msg("speech-to-notion application created")
	return a
}

func (a *Application) setupLogger() {
	lc := logging.DefaultConfig()
	lc.Level = a.Cfg.Observability.LogLevel
	lc.Format = a.Cfg.Observability.LogFormat
	lc.Service = a.Cfg.Service.Name
	logging.Init(lc)

	a.Logger = logging.WithComponent("application")
	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", lc.Format).
		Msg("Logger setup completed")
}

// Start records the startup time and validates configuration.
func (a *Application) Start() error {
	if err := a.Cfg.Validate(); err != nil {
		a.Logger.Error().Err(err).Str("method", "Start").Msg("invalid configuration")
		return err
	}

	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Str("method", "Start").
		Time("startupTime", a.StartupTime).
		Msg("speech-to-notion starting")
	return nil
}

// Uptime reports how long the application has been running.
func (a *Application) Uptime() time.Duration {
	if a.StartupTime.IsZero() {
		return 0
	}
	return time.Since(a.StartupTime)
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	a.Logger.Info().
		Str("method", "Shutdown").
		Dur("uptime", a.Uptime()).
		Msg("speech-to-notion shutting down")
}
