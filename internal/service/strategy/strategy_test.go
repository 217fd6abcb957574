package strategy

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/observability/metrics"
	"speech-to-notion/internal/service/stt"
)

type fakeSink struct {
	mu     sync.Mutex
	events []models.Transcript
}

func (s *fakeSink) Emit(t models.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, t)
}

func (s *fakeSink) all() []models.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Transcript(nil), s.events...)
}

type fakeAppender struct {
	mu    sync.Mutex
	texts []string
}

func (a *fakeAppender) Enqueue(text string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return true
}

func (a *fakeAppender) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

// fakeStream records frames and lets the test drive callbacks directly.
type fakeStream struct {
	mu       sync.Mutex
	cb       stt.Callback
	ready    bool
	startErr error
	closed   bool
	frames   [][]byte
}

func (s *fakeStream) Start(ctx context.Context, cb stt.Callback) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.cb = cb
	s.ready = true
	s.mu.Unlock()
	cb.OnConnected("req-1")
	return nil
}

func (s *fakeStream) SendAudio(ctx context.Context, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || s.closed {
		return stt.ErrNotReady
	}
	s.frames = append(s.frames, audio)
	return nil
}

func (s *fakeStream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && !s.closed
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func chunk(b string) string {
	return base64.StdEncoding.EncodeToString([]byte(b))
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func TestDecodeChunk(t *testing.T) {
	tests := []struct {
		name    string
		chunk   string
		wantErr bool
	}{
		{"valid", chunk("audio"), false},
		{"empty", "", true},
		{"not base64", "!!!not-base64", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeChunk(tt.chunk)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeChunk() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidChunk) {
				t.Errorf("expected ErrInvalidChunk, got %v", err)
			}
		})
	}
}

func TestLive_OnlyFinalsAreAppended(t *testing.T) {
	stream := &fakeStream{}
	sink := &fakeSink{}
	app := &fakeAppender{}
	l := NewLive("s1", "mock", stream, sink, app, testMetrics())
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	l.OnTranscript(models.Transcript{Kind: models.TranscriptPartial, Text: "hel"})
	l.OnTranscript(models.Transcript{Kind: models.TranscriptPartial, Text: "hello"})
	l.OnTranscript(models.Transcript{Kind: models.TranscriptFinal, Text: "hello world"})
	l.OnTranscript(models.Transcript{Kind: models.TranscriptPartial, Text: "next"})

	if got := len(sink.all()); got != 4 {
		t.Errorf("expected 4 emitted transcripts, got %d", got)
	}
	texts := app.all()
	if len(texts) != 1 || texts[0] != "hello world" {
		t.Errorf("expected one append of the final, got %v", texts)
	}
}

func TestLive_EmptyFinalNotAppended(t *testing.T) {
	stream := &fakeStream{}
	sink := &fakeSink{}
	app := &fakeAppender{}
	l := NewLive("s1", "mock", stream, sink, app, testMetrics())
	_ = l.Start(context.Background())

	l.OnTranscript(models.Transcript{Kind: models.TranscriptFinal, Text: ""})

	if len(sink.all()) != 1 {
		t.Error("empty final should still be emitted")
	}
	if len(app.all()) != 0 {
		t.Error("empty final should not be appended")
	}
}

func TestLive_ForwardsFrames(t *testing.T) {
	stream := &fakeStream{}
	l := NewLive("s1", "mock", stream, &fakeSink{}, &fakeAppender{}, testMetrics())
	_ = l.Start(context.Background())

	for i := 0; i < 3; i++ {
		if err := l.HandleAudioChunk(context.Background(), chunk("frame")); err != nil {
			t.Fatalf("HandleAudioChunk() error = %v", err)
		}
	}
	if stream.sent() != 3 {
		t.Errorf("expected 3 frames sent, got %d", stream.sent())
	}
}

func TestLive_DropsFramesWhenNotReady(t *testing.T) {
	stream := &fakeStream{}
	l := NewLive("s1", "mock", stream, &fakeSink{}, &fakeAppender{}, testMetrics())

	// Not started: the stream refuses frames.
	err := l.HandleAudioChunk(context.Background(), chunk("frame"))
	if !errors.Is(err, stt.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if stream.sent() != 0 {
		t.Errorf("expected no frames sent, got %d", stream.sent())
	}
}

func TestLive_StartFailureLeavesStrategyInert(t *testing.T) {
	stream := &fakeStream{startErr: errors.New("dial refused")}
	l := NewLive("s1", "mock", stream, &fakeSink{}, &fakeAppender{}, testMetrics())

	if err := l.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	err := l.HandleAudioChunk(context.Background(), chunk("frame"))
	if !errors.Is(err, stt.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if stream.sent() != 0 {
		t.Error("no frame should reach the stream")
	}
}

func TestLive_NoReconnectAfterClose(t *testing.T) {
	stream := &fakeStream{}
	l := NewLive("s1", "mock", stream, &fakeSink{}, &fakeAppender{}, testMetrics())
	_ = l.Start(context.Background())

	l.OnClose(errors.New("socket reset"))

	// The fake stream still reports ready; the strategy must not use it.
	if err := l.HandleAudioChunk(context.Background(), chunk("frame")); !errors.Is(err, stt.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if stream.sent() != 0 {
		t.Errorf("expected no frames after close, got %d", stream.sent())
	}
}

func TestLive_InvalidChunk(t *testing.T) {
	stream := &fakeStream{}
	l := NewLive("s1", "mock", stream, &fakeSink{}, &fakeAppender{}, testMetrics())
	_ = l.Start(context.Background())

	if err := l.HandleAudioChunk(context.Background(), "%%%"); !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("expected ErrInvalidChunk, got %v", err)
	}
}

func TestLive_CloseClosesStream(t *testing.T) {
	stream := &fakeStream{}
	l := NewLive("s1", "mock", stream, &fakeSink{}, &fakeAppender{}, testMetrics())
	_ = l.Start(context.Background())

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !stream.closed {
		t.Error("expected stream to be closed")
	}
}
