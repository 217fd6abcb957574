// Package google provides a Google Cloud Speech-to-Text live stream.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/observability/logging"
	"speech-to-notion/internal/service/stt"
)

// Config holds Google streaming recognition settings.
type Config struct {
	LanguageCode    string
	SampleRateHz    int
	InterimResults  bool
	AudioEncoding   string
	CredentialsFile string
}

// DefaultConfig returns the recognition settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// parseAudioEncoding maps an encoding name to the Google enum. Names are
// matched case-sensitively; unknown names fall back to LINEAR16. OPUS is
// the browser's WebM/Opus capture.
func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	switch name {
	case "OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	}
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[name]; ok && name != "ENCODING_UNSPECIFIED" {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}

// Adapter implements stt.Stream using Google Cloud Speech-to-Text.
type Adapter struct {
	cfg    Config
	client *speech.Client
	logger zerolog.Logger

	sendMu  sync.Mutex
	stream  speechpb.Speech_StreamingRecognizeClient
	started atomic.Bool
	ready   atomic.Bool
	closed  atomic.Bool
}

var _ stt.Stream = (*Adapter)(nil)

// New creates a Google speech client. Credentials come from
// cfg.CredentialsFile or the GOOGLE_APPLICATION_CREDENTIALS default chain.
func New(ctx context.Context, sessionID string, cfg Config) (*Adapter, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stt.ErrStream, err)
	}
	return &Adapter{
		cfg:    cfg,
		client: c,
		logger: logging.WithStream(sessionID, "google"),
	}, nil
}

// Start opens the streaming call, sends the recognition config once and
// starts delivering results to cb.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	if !a.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: already started", stt.ErrStream)
	}

	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", stt.ErrStream, err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
					SampleRateHertz:            int32(a.cfg.SampleRateHz),
					LanguageCode:               a.cfg.LanguageCode,
					EnableWordTimeOffsets:      true,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: send config: %v", stt.ErrStream, err)
	}

	a.sendMu.Lock()
	a.stream = stream
	a.sendMu.Unlock()
	a.ready.Store(true)

	a.logger.Info().
		Str("languageCode", a.cfg.LanguageCode).
		Int("sampleRate", a.cfg.SampleRateHz).
		Msg("google stream opened")

	cb.OnConnected("")
	go a.listen(stream, cb)
	return nil
}

// Ready reports whether frames are accepted.
func (a *Adapter) Ready() bool {
	return a.ready.Load()
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if !a.ready.Load() {
		return stt.ErrNotReady
	}
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	err := a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
	if err != nil {
		a.ready.Store(false)
		return fmt.Errorf("%w: send audio: %v", stt.ErrStream, err)
	}
	return nil
}

// Close half-closes the stream and releases the client.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.ready.Store(false)

	a.sendMu.Lock()
	var err error
	if a.stream != nil {
		err = a.stream.CloseSend()
	}
	a.sendMu.Unlock()

	if cerr := a.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// listen receives responses until the stream ends.
func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			a.ready.Store(false)
			if errors.Is(err, io.EOF) || a.closed.Load() || status.Code(err) == codes.Canceled {
				cb.OnClose(nil)
				return
			}
			a.logger.Error().Err(err).Msg("google stream receive failed")
			streamErr := fmt.Errorf("%w: %v", stt.ErrStream, err)
			cb.OnError(streamErr)
			cb.OnClose(streamErr)
			return
		}
		if e := resp.GetError(); e != nil {
			cb.OnError(fmt.Errorf("%w: %s", stt.ErrStream, e.GetMessage()))
			continue
		}

		for _, r := range resp.GetResults() {
			if t, ok := toTranscript(r); ok {
				cb.OnTranscript(t)
			}
		}
	}
}

func toTranscript(r *speechpb.StreamingRecognitionResult) (models.Transcript, bool) {
	alts := r.GetAlternatives()
	if len(alts) == 0 {
		return models.Transcript{}, false
	}
	alt := alts[0]

	kind := models.TranscriptPartial
	if r.GetIsFinal() {
		kind = models.TranscriptFinal
	}

	words := make([]models.Word, 0, len(alt.GetWords()))
	for _, w := range alt.GetWords() {
		words = append(words, models.Word{
			Word:       w.GetWord(),
			TimeBegin:  w.GetStartTime().AsDuration().Seconds(),
			TimeEnd:    w.GetEndTime().AsDuration().Seconds(),
			Confidence: float64(w.GetConfidence()),
		})
	}

	t := models.Transcript{
		Kind:     kind,
		Text:     alt.GetTranscript(),
		Language: r.GetLanguageCode(),
		EndTime:  r.GetResultEndTime().AsDuration().Seconds(),
		Words:    words,
	}
	if len(words) > 0 {
		t.StartTime = words[0].TimeBegin
	}
	return t, true
}
