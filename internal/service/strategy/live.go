package strategy

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/observability/logging"
	"speech-to-notion/internal/observability/metrics"
	"speech-to-notion/internal/service/stt"
)

// Live forwards frames to one provider stream for the whole session. It is
// the stream's callback: every transcript goes to the sink and each
// non-empty final is queued for appending. After the stream fails or closes
// it is never reopened and further frames are dropped.
type Live struct {
	sessionID string
	provider  string
	stream    stt.Stream
	sink      Sink
	appender  Appender
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	inert atomic.Bool
}

var (
	_ Strategy     = (*Live)(nil)
	_ stt.Callback = (*Live)(nil)
)

// NewLive builds a Live strategy around an unstarted stream.
func NewLive(sessionID, provider string, stream stt.Stream, sink Sink, appender Appender, m *metrics.Metrics) *Live {
	return &Live{
		sessionID: sessionID,
		provider:  provider,
		stream:    stream,
		sink:      sink,
		appender:  appender,
		metrics:   metrics.OrDefault(m),
		logger:    logging.WithStrategy(sessionID, string(KindLive)),
	}
}

// Start opens the provider stream. On failure the strategy stays inert.
func (l *Live) Start(ctx context.Context) error {
	if err := l.stream.Start(ctx, l); err != nil {
		l.inert.Store(true)
		l.metrics.RecordSTTError(l.provider, "start")
		l.logger.Error().Err(err).Msg("failed to open live stream, frames will be dropped")
		return err
	}
	return nil
}

func (l *Live) Kind() Kind { return KindLive }

// HandleAudioChunk decodes and forwards one frame, dropping it when the
// stream is not ready.
func (l *Live) HandleAudioChunk(ctx context.Context, chunk string) error {
	audio, err := decodeChunk(chunk)
	if err != nil {
		l.metrics.RecordFrameDropped("invalid")
		return err
	}
	l.metrics.RecordAudioReceived(len(audio))

	if l.inert.Load() {
		l.metrics.RecordFrameDropped("not_ready")
		return stt.ErrNotReady
	}
	if err := l.stream.SendAudio(ctx, audio); err != nil {
		if errors.Is(err, stt.ErrNotReady) {
			l.metrics.RecordFrameDropped("not_ready")
		} else {
			l.metrics.RecordFrameDropped("send_failed")
			l.metrics.RecordSTTError(l.provider, "send")
			l.logger.Warn().Err(err).Msg("failed to forward audio frame")
		}
		return err
	}
	return nil
}

// Close closes the provider stream.
func (l *Live) Close() error {
	l.inert.Store(true)
	return l.stream.Close()
}

func (l *Live) OnConnected(requestID string) {
	l.logger.Info().Str("requestId", requestID).Msg("live transcription connected")
}

func (l *Live) OnTranscript(t models.Transcript) {
	l.metrics.RecordTranscript(t.IsFinal())
	l.sink.Emit(t)
	if t.IsFinal() && t.Text != "" {
		l.appender.Enqueue(t.Text)
	}
}

func (l *Live) OnError(err error) {
	l.metrics.RecordSTTError(l.provider, "stream")
	l.logger.Error().Err(err).Msg("live transcription error")
}

func (l *Live) OnClose(err error) {
	l.inert.Store(true)
	if err != nil {
		l.logger.Warn().Err(err).Msg("live stream ended with error, not reconnecting")
		return
	}
	l.logger.Info().Msg("live stream closed")
}
