package strategy

import (
	"context"
	"fmt"

	"speech-to-notion/internal/observability/metrics"
	"speech-to-notion/internal/service/stt"
)

// StreamFactory opens an unstarted provider stream for a session.
type StreamFactory func(ctx context.Context, sessionID string) (stt.Stream, error)

// Factory builds the configured strategy for each new session.
type Factory struct {
	Kind      Kind
	Provider  string
	NewStream StreamFactory
	Batch     stt.BatchClient
	BatchOpts BatchOptions
	Metrics   *metrics.Metrics
}

// New returns the session's strategy. A Live strategy whose stream fails
// to open is still returned, inert, so the session keeps running.
func (f *Factory) New(ctx context.Context, sessionID string, sink Sink, appender Appender) (Strategy, error) {
	switch f.Kind {
	case KindBatch:
		if f.Batch == nil {
			return nil, fmt.Errorf("batch strategy: no client configured")
		}
		opts := f.BatchOpts
		opts.Provider = f.Provider
		return NewBatch(sessionID, f.Batch, sink, appender, opts, f.Metrics), nil
	case KindLive, "":
		if f.NewStream == nil {
			return nil, fmt.Errorf("live strategy: no stream factory configured")
		}
		stream, err := f.NewStream(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("live strategy: %w", err)
		}
		live := NewLive(sessionID, f.Provider, stream, sink, appender, f.Metrics)
		_ = live.Start(ctx)
		return live, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", f.Kind)
	}
}
