package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/observability/logging"
	"speech-to-notion/internal/observability/metrics"
	"speech-to-notion/internal/service/stt"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultPollMaxAttempts = 12
)

var errJobPending = errors.New("job not finished")

// BatchOptions configures a Batch strategy.
type BatchOptions struct {
	Provider         string
	Language         string
	ContextHint      string
	MinSpeakers      int
	MaxSpeakers      int
	NumberOfSpeakers int
	PollInterval     time.Duration
	PollMaxAttempts  int
	Filename         string
	ContentType      string
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollMaxAttempts <= 0 {
		o.PollMaxAttempts = DefaultPollMaxAttempts
	}
	if o.Filename == "" {
		o.Filename = "audio.webm"
	}
	if o.ContentType == "" {
		o.ContentType = "audio/webm;codecs=opus"
	}
	return o
}

func (o BatchOptions) jobRequest(audioURL string) models.JobRequest {
	req := models.JobRequest{
		AudioURL:      audioURL,
		ContextPrompt: o.ContextHint,
		Language:      o.Language,
	}
	if o.MaxSpeakers > 0 || o.NumberOfSpeakers > 0 {
		req.Diarization = true
		req.DiarizationConfig = &models.DiarizationConfig{
			MinSpeakers:      o.MinSpeakers,
			MaxSpeakers:      o.MaxSpeakers,
			NumberOfSpeakers: o.NumberOfSpeakers,
		}
	}
	return req
}

// Batch treats every chunk as a complete audio unit: upload, submit, then
// poll at a fixed interval up to a fixed number of attempts. Units run
// concurrently and are never concatenated. Failures are logged only.
type Batch struct {
	sessionID string
	client    stt.BatchClient
	sink      Sink
	appender  Appender
	opts      BatchOptions
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Strategy = (*Batch)(nil)

// NewBatch builds a Batch strategy. Close cancels every unit in flight.
func NewBatch(sessionID string, client stt.BatchClient, sink Sink, appender Appender, opts BatchOptions, m *metrics.Metrics) *Batch {
	ctx, cancel := context.WithCancel(context.Background())
	return &Batch{
		sessionID: sessionID,
		client:    client,
		sink:      sink,
		appender:  appender,
		opts:      opts.withDefaults(),
		metrics:   metrics.OrDefault(m),
		logger:    logging.WithStrategy(sessionID, string(KindBatch)),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (b *Batch) Kind() Kind { return KindBatch }

// HandleAudioChunk starts transcribing the chunk in the background.
func (b *Batch) HandleAudioChunk(ctx context.Context, chunk string) error {
	audio, err := decodeChunk(chunk)
	if err != nil {
		b.metrics.RecordFrameDropped("invalid")
		return err
	}
	if b.ctx.Err() != nil {
		b.metrics.RecordFrameDropped("closed")
		return b.ctx.Err()
	}
	b.metrics.RecordAudioReceived(len(audio))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if _, err := b.Transcribe(b.ctx, audio); err != nil {
			b.logger.Error().Err(err).Int("bytes", len(audio)).Msg("batch transcription failed")
		}
	}()
	return nil
}

// Transcribe runs one unit synchronously. On a finished job the transcript
// is emitted and queued for appending.
func (b *Batch) Transcribe(ctx context.Context, audio []byte) (models.Transcript, error) {
	upload, err := b.client.UploadAudio(ctx, audio, b.opts.Filename, b.opts.ContentType)
	if err != nil {
		b.recordFailure("upload")
		return models.Transcript{}, err
	}

	ref, err := b.client.SubmitJob(ctx, b.opts.jobRequest(upload.AudioURL))
	if err != nil {
		b.recordFailure("submit")
		return models.Transcript{}, err
	}
	b.logger.Debug().Str("jobId", ref.ID).Msg("transcription job submitted")

	snap, err := b.poll(ctx, ref.ID)
	if err != nil {
		if errors.Is(err, ErrPollTimeout) {
			b.metrics.RecordBatchJob("timeout")
		} else {
			b.recordFailure("poll")
		}
		return models.Transcript{}, err
	}

	if snap.Status == models.JobError {
		b.metrics.RecordBatchJob("error")
		return models.Transcript{}, fmt.Errorf("job %s failed: %s", ref.ID, snap.ErrorMessage)
	}

	t := models.Transcript{Kind: models.TranscriptFinal, Language: snap.Language()}
	if snap.Result != nil {
		t.Text = snap.Result.Transcription.FullTranscript
		t.EndTime = snap.Result.Metadata.AudioDuration
	}
	if ctx.Err() != nil {
		return models.Transcript{}, ctx.Err()
	}

	b.metrics.RecordBatchJob("done")
	b.metrics.RecordTranscript(true)
	b.sink.Emit(t)
	if t.Text != "" {
		b.appender.Enqueue(t.Text)
	}
	b.logger.Info().Str("jobId", ref.ID).Int("chars", len(t.Text)).Msg("batch transcription done")
	return t, nil
}

// poll returns the first terminal snapshot, or ErrPollTimeout after
// PollMaxAttempts calls. Poll errors count as attempts.
func (b *Batch) poll(ctx context.Context, id string) (models.JobSnapshot, error) {
	op := func() (models.JobSnapshot, error) {
		b.metrics.RecordBatchPoll()
		snap, err := b.client.PollJob(ctx, id)
		if err != nil {
			b.logger.Warn().Err(err).Str("jobId", id).Msg("poll failed")
			return snap, err
		}
		if !snap.Status.IsTerminal() {
			return snap, errJobPending
		}
		return snap, nil
	}

	snap, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(b.opts.PollInterval)),
		backoff.WithMaxTries(uint(b.opts.PollMaxAttempts)),
	)
	if err == nil {
		return snap, nil
	}
	if ctx.Err() != nil {
		return snap, ctx.Err()
	}
	return snap, fmt.Errorf("%w: job %s after %d attempts: %v", ErrPollTimeout, id, b.opts.PollMaxAttempts, err)
}

func (b *Batch) recordFailure(stage string) {
	b.metrics.RecordBatchJob(stage + "_error")
	b.metrics.RecordSTTError(b.opts.Provider, stage)
}

// Wait blocks until every unit started so far has finished.
func (b *Batch) Wait() {
	b.wg.Wait()
}

// Close cancels units in flight and waits for them to return.
func (b *Batch) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}
