package gladia

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/service/stt"
)

type written struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory Conn. Messages pushed to in are returned by
// ReadMessage; closing in makes ReadMessage fail with readErr.
type fakeConn struct {
	mu        sync.Mutex
	writes    []written
	in        chan []byte
	readErr   error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, written{messageType, append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m, ok := <-c.in:
		if !ok {
			return 0, nil, c.readErr
		}
		return websocket.TextMessage, m, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) count(messageType int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.writes {
		if w.messageType == messageType {
			n++
		}
	}
	return n
}

func (c *fakeConn) first() written {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[0]
}

// recorder implements stt.Callback.
type recorder struct {
	mu          sync.Mutex
	connected   []string
	transcripts []models.Transcript
	errs        []error
	closed      chan error
}

func newRecorder() *recorder {
	return &recorder{closed: make(chan error, 1)}
}

func (r *recorder) OnConnected(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, id)
}

func (r *recorder) OnTranscript(t models.Transcript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, t)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) OnClose(err error) {
	r.closed <- err
}

func startFakeStream(t *testing.T) (*Stream, *fakeConn, *recorder) {
	t.Helper()
	conn := newFakeConn()
	s := NewStream(StreamOptions{
		APIKey:    "key",
		SessionID: "s1",
		Config: stt.StreamConfig{
			SampleRateHz:      48000,
			Encoding:          "OPUS",
			LanguageBehaviour: "automatic single language",
			Language:          "french",
			ContextHint:       "weekly sync",
		},
		Dial: func(ctx context.Context, url string) (Conn, error) { return conn, nil },
	})
	rec := newRecorder()
	if err := s.Start(context.Background(), rec); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, conn, rec
}

func TestStream_HandshakeSentOnce(t *testing.T) {
	s, conn, _ := startFakeStream(t)

	for i := 0; i < 3; i++ {
		if err := s.SendAudio(context.Background(), []byte{1, 2, 3}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	if got := conn.count(websocket.TextMessage); got != 1 {
		t.Fatalf("expected exactly one text handshake, got %d", got)
	}
	if got := conn.count(websocket.BinaryMessage); got != 3 {
		t.Errorf("expected 3 binary frames, got %d", got)
	}

	first := conn.first()
	if first.messageType != websocket.TextMessage {
		t.Fatal("expected the handshake to be the first message")
	}
	var hs map[string]any
	if err := json.Unmarshal(first.data, &hs); err != nil {
		t.Fatalf("handshake is not JSON: %v", err)
	}
	want := map[string]any{
		"x_gladia_key":       "key",
		"sample_rate":        float64(48000),
		"encoding":           "OPUS",
		"language_behaviour": "automatic single language",
		"language":           "french",
		"transcription_hint": "weekly sync",
		"frames_format":      "bytes",
	}
	for k, v := range want {
		if hs[k] != v {
			t.Errorf("handshake[%s] = %v, want %v", k, hs[k], v)
		}
	}

	if err := s.Start(context.Background(), newRecorder()); !errors.Is(err, stt.ErrStream) {
		t.Errorf("expected second Start to fail, got %v", err)
	}
	if got := conn.count(websocket.TextMessage); got != 1 {
		t.Errorf("second Start wrote another handshake")
	}
}

func TestStream_DropsFramesWhenNotReady(t *testing.T) {
	dialled := false
	s := NewStream(StreamOptions{
		Dial: func(ctx context.Context, url string) (Conn, error) {
			dialled = true
			return newFakeConn(), nil
		},
	})

	if s.Ready() {
		t.Fatal("expected stream not ready before Start")
	}
	if err := s.SendAudio(context.Background(), []byte{1}); !errors.Is(err, stt.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if dialled {
		t.Error("SendAudio must not dial")
	}
}

func TestStream_DropsFramesAfterClose(t *testing.T) {
	s, conn, rec := startFakeStream(t)

	if err := s.SendAudio(context.Background(), []byte{1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	s.Close()

	select {
	case err := <-rec.closed:
		if err != nil {
			t.Errorf("expected clean close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}

	for i := 0; i < 5; i++ {
		if err := s.SendAudio(context.Background(), []byte{1}); !errors.Is(err, stt.ErrNotReady) {
			t.Errorf("expected ErrNotReady after close, got %v", err)
		}
	}
	if got := conn.count(websocket.BinaryMessage); got != 1 {
		t.Errorf("expected 1 binary frame sent, got %d", got)
	}
}

func TestStream_DemuxesEvents(t *testing.T) {
	_, conn, rec := startFakeStream(t)

	conn.in <- []byte(`{"event":"connected","request_id":"req-1"}`)
	conn.in <- []byte(`{"event":"transcript","type":"partial","transcription":"bon","language":"fr","time_begin":0.1,"time_end":0.4}`)
	conn.in <- []byte(`{"event":"transcript","type":"final","transcription":"bonjour","language":"fr","time_begin":0.1,"time_end":0.9,"words":[{"word":"bonjour","time_begin":0.1,"time_end":0.9,"confidence":0.97}]}`)
	conn.in <- []byte(`{"event":"error","message":"quota exceeded"}`)
	conn.in <- []byte(`not json`)
	conn.in <- []byte(`{"event":"heartbeat"}`)
	conn.readErr = errors.New("connection reset by peer")
	close(conn.in)

	var closeErr error
	select {
	case closeErr = <-rec.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if len(rec.connected) != 1 || rec.connected[0] != "req-1" {
		t.Errorf("unexpected connected events %v", rec.connected)
	}
	if len(rec.transcripts) != 2 {
		t.Fatalf("expected 2 transcripts, got %d", len(rec.transcripts))
	}
	if rec.transcripts[0].Kind != models.TranscriptPartial || rec.transcripts[0].Text != "bon" {
		t.Errorf("unexpected partial %+v", rec.transcripts[0])
	}
	final := rec.transcripts[1]
	if !final.IsFinal() || final.Text != "bonjour" || final.Language != "fr" || len(final.Words) != 1 {
		t.Errorf("unexpected final %+v", final)
	}
	if final.Words[0].Confidence != 0.97 {
		t.Errorf("unexpected word confidence %v", final.Words[0].Confidence)
	}
	// provider error event + read failure
	if len(rec.errs) != 2 || !errors.Is(rec.errs[0], stt.ErrStream) || !strings.Contains(rec.errs[0].Error(), "quota exceeded") {
		t.Errorf("unexpected errors %v", rec.errs)
	}
	if !errors.Is(closeErr, stt.ErrStream) {
		t.Errorf("expected OnClose with ErrStream, got %v", closeErr)
	}
}

func TestStream_ReadFailureMakesStreamInert(t *testing.T) {
	s, conn, rec := startFakeStream(t)

	conn.readErr = errors.New("broken pipe")
	close(conn.in)
	<-rec.closed

	if s.Ready() {
		t.Error("expected stream to be inert after a read failure")
	}
	if err := s.SendAudio(context.Background(), []byte{1}); !errors.Is(err, stt.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestStream_DialFailure(t *testing.T) {
	s := NewStream(StreamOptions{
		Dial: func(ctx context.Context, url string) (Conn, error) {
			return nil, errors.New("connection refused")
		},
	})
	if err := s.Start(context.Background(), newRecorder()); !errors.Is(err, stt.ErrStream) {
		t.Errorf("expected ErrStream, got %v", err)
	}
	if s.Ready() {
		t.Error("expected stream not ready after dial failure")
	}
}

func TestStream_OverWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	handshakes := make(chan map[string]any, 1)
	frames := make(chan []byte, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var hs map[string]any
		json.Unmarshal(data, &hs)
		handshakes <- hs
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected","request_id":"r-42"}`))

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				frames <- data
				conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"transcript","type":"final","transcription":"hello"}`))
			}
		}
	}))
	defer srv.Close()

	s := NewStream(StreamOptions{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey: "k",
		Config: stt.StreamConfig{SampleRateHz: 16000, Encoding: "WAV/PCM"},
	})
	rec := newRecorder()
	if err := s.Start(context.Background(), rec); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	select {
	case hs := <-handshakes:
		if hs["x_gladia_key"] != "k" || hs["encoding"] != "WAV/PCM" {
			t.Errorf("unexpected handshake %v", hs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake not received")
	}

	if err := s.SendAudio(context.Background(), []byte("pcm")); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case f := <-frames:
		if string(f) != "pcm" {
			t.Errorf("unexpected frame %q", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}

	deadline := time.After(2 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.transcripts)
		rec.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("transcript not delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
