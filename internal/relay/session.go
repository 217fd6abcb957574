package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/observability/logging"
	"speech-to-notion/internal/observability/metrics"
	"speech-to-notion/internal/schema"
	"speech-to-notion/internal/service/cursor"
	"speech-to-notion/internal/service/strategy"
	"speech-to-notion/internal/store"
)

// Documents resolves, checks and writes to destination pages.
type Documents interface {
	ResolveTarget(rawURL string) (models.Target, error)
	VerifyAccess(ctx context.Context, target models.Target) error
	cursor.Writer
}

// StrategyFactory builds the configured strategy for a session.
type StrategyFactory interface {
	New(ctx context.Context, sessionID string, sink strategy.Sink, appender strategy.Appender) (strategy.Strategy, error)
}

// Publisher mirrors transcripts to a message bus.
type Publisher interface {
	PublishTranscript(ctx context.Context, result models.TranscriptResult) error
}

// SessionDeps are the shared services a session is built from.
type SessionDeps struct {
	Strategies StrategyFactory
	Documents  Documents
	Store      store.CursorStore
	Hub        *Hub
	Publisher  Publisher
	StartText  string
	Metrics    *metrics.Metrics
}

// Session is the relay state of one connection. It is the strategy's sink:
// every transcript is broadcast to all clients and mirrored to the
// publisher.
type Session struct {
	id        string
	lc        *Lifecycle
	strategy  strategy.Strategy
	appender  *cursor.Appender
	docs      Documents
	hub       *Hub
	publisher Publisher
	startText string
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	startedAt time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSession creates the session's appender and strategy.
func NewSession(id string, deps SessionDeps) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		lc:        NewLifecycle(),
		docs:      deps.Documents,
		hub:       deps.Hub,
		publisher: deps.Publisher,
		startText: deps.StartText,
		metrics:   metrics.OrDefault(deps.Metrics),
		logger:    logging.WithSession(id),
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.appender = cursor.NewAppender(deps.Documents, cursor.Options{
		SessionID: id,
		Store:     deps.Store,
		Metrics:   deps.Metrics,
	})

	strat, err := deps.Strategies.New(ctx, id, s, s.appender)
	if err != nil {
		cancel()
		_ = s.appender.Close()
		return nil, fmt.Errorf("create strategy: %w", err)
	}
	s.strategy = strat
	s.metrics.RecordSessionStart()
	s.logger.Info().Str("strategy", string(strat.Kind())).Msg("session started")
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.lc.State() }

func (s *Session) StrategyKind() strategy.Kind { return s.strategy.Kind() }

// HandleAudio hands one base64 chunk to the strategy. A target is not
// required.
func (s *Session) HandleAudio(chunk string) error {
	if err := s.lc.Audio(); err != nil {
		return err
	}
	return s.strategy.HandleAudioChunk(s.ctx, chunk)
}

// SetTarget validates the url, checks access and seeds the cursor with the
// start text. On failure the previous cursor, if any, is kept.
func (s *Session) SetTarget(ctx context.Context, rawURL string) (models.Cursor, error) {
	if err := s.lc.Check(); err != nil {
		return models.Cursor{}, err
	}
	target, err := s.docs.ResolveTarget(rawURL)
	if err != nil {
		return models.Cursor{}, err
	}
	if err := s.docs.VerifyAccess(ctx, target); err != nil {
		return models.Cursor{}, err
	}
	c, err := s.appender.Seed(ctx, target, s.startText)
	if err != nil {
		return models.Cursor{}, err
	}
	if err := s.lc.TargetSet(); err != nil {
		return models.Cursor{}, err
	}
	s.logger.Info().Str("pageId", c.PageID).Str("anchorId", c.AnchorID).Msg("target set")
	return c, nil
}

// CheckAccess is the read-only form of SetTarget. It returns the block the
// url points at.
func (s *Session) CheckAccess(ctx context.Context, rawURL string) (string, error) {
	return checkAccess(ctx, s.docs, rawURL)
}

func checkAccess(ctx context.Context, docs Documents, rawURL string) (string, error) {
	target, err := docs.ResolveTarget(rawURL)
	if err != nil {
		return "", err
	}
	if err := docs.VerifyAccess(ctx, target); err != nil {
		return "", err
	}
	if target.AnchorID != "" {
		return target.AnchorID, nil
	}
	return target.PageID, nil
}

// Cursor returns the current append position.
func (s *Session) Cursor() (models.Cursor, error) {
	c, ok := s.appender.Cursor()
	if !ok {
		return models.Cursor{}, ErrTargetNotSet
	}
	return c, nil
}

// Emit broadcasts a transcript to every client and mirrors it to the
// publisher. Transcripts arriving after Close are discarded.
func (s *Session) Emit(t models.Transcript) {
	if s.lc.Check() != nil {
		return
	}
	result := models.NewTranscriptResult(s.id, t, time.Now().UnixMilli())
	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode transcript")
		return
	}
	// The transcript travels as a JSON string inside the envelope.
	msg, err := schema.NewEnvelope(schema.EventTranscriptionResult, string(payload))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode envelope")
		return
	}
	s.hub.Broadcast(msg)

	if s.publisher != nil {
		if err := s.publisher.PublishTranscript(s.ctx, result); err != nil {
			s.logger.Warn().Err(err).Str("type", string(t.Kind)).Msg("failed to publish transcript")
		}
	}
}

// Close tears the session down: in-flight calls are cancelled, the provider
// stream is closed and queued appends are discarded. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.lc.Close()
		s.cancel()
		if err := s.strategy.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("strategy close failed")
		}
		_ = s.appender.Close()
		s.metrics.RecordSessionEnd(time.Since(s.startedAt).Seconds())
		s.logger.Info().Dur("duration", time.Since(s.startedAt)).Msg("session closed")
	})
}
