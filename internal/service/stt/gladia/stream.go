package gladia

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/observability/logging"
	"speech-to-notion/internal/service/stt"
)

// Conn is the subset of *websocket.Conn the stream uses.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// DialFunc opens the live socket.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// DialWebSocket dials url with gorilla/websocket.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// StreamOptions configures a live Stream.
type StreamOptions struct {
	URL       string
	APIKey    string
	SessionID string
	Config    stt.StreamConfig
	Dial      DialFunc
}

// handshake is the first and only text message the stream writes.
type handshake struct {
	XGladiaKey        string `json:"x_gladia_key"`
	SampleRate        int    `json:"sample_rate,omitempty"`
	Encoding          string `json:"encoding,omitempty"`
	LanguageBehaviour string `json:"language_behaviour,omitempty"`
	Language          string `json:"language,omitempty"`
	TranscriptionHint string `json:"transcription_hint,omitempty"`
	FramesFormat      string `json:"frames_format"`
}

// liveMessage covers the connected, transcript and error events.
type liveMessage struct {
	Event         string        `json:"event"`
	RequestID     string        `json:"request_id"`
	Type          string        `json:"type"`
	Transcription string        `json:"transcription"`
	Language      string        `json:"language"`
	TimeBegin     float64       `json:"time_begin"`
	TimeEnd       float64       `json:"time_end"`
	Duration      float64       `json:"duration"`
	Words         []models.Word `json:"words"`
	Message       string        `json:"message"`
}

// Stream is one live transcription socket. Frames are written as binary
// messages only while the stream is ready; otherwise they are dropped.
type Stream struct {
	url    string
	apiKey string
	cfg    stt.StreamConfig
	dial   DialFunc
	logger zerolog.Logger

	writeMu sync.Mutex
	conn    Conn
	started atomic.Bool
	ready   atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
}

var _ stt.Stream = (*Stream)(nil)

// NewStream builds a Stream. Nothing is dialled until Start.
func NewStream(opts StreamOptions) *Stream {
	s := &Stream{
		url:    opts.URL,
		apiKey: opts.APIKey,
		cfg:    opts.Config,
		dial:   opts.Dial,
		logger: logging.WithStream(opts.SessionID, "gladia"),
		done:   make(chan struct{}),
	}
	if s.url == "" {
		s.url = DefaultLiveURL
	}
	if s.dial == nil {
		s.dial = DialWebSocket
	}
	return s
}

// Start dials the socket, writes the handshake and starts the read loop.
func (s *Stream) Start(ctx context.Context, cb stt.Callback) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: already started", stt.ErrStream)
	}

	conn, err := s.dial(ctx, s.url)
	if err != nil {
		close(s.done)
		return fmt.Errorf("%w: %v", stt.ErrStream, err)
	}

	msg, err := json.Marshal(handshake{
		XGladiaKey:        s.apiKey,
		SampleRate:        s.cfg.SampleRateHz,
		Encoding:          s.cfg.Encoding,
		LanguageBehaviour: s.cfg.LanguageBehaviour,
		Language:          s.cfg.Language,
		TranscriptionHint: s.cfg.ContextHint,
		FramesFormat:      "bytes",
	})
	if err != nil {
		conn.Close()
		close(s.done)
		return fmt.Errorf("%w: encode handshake: %v", stt.ErrStream, err)
	}

	s.writeMu.Lock()
	s.conn = conn
	err = conn.WriteMessage(websocket.TextMessage, msg)
	s.writeMu.Unlock()
	if err != nil {
		conn.Close()
		close(s.done)
		return fmt.Errorf("%w: send handshake: %v", stt.ErrStream, err)
	}

	if s.closed.Load() {
		conn.Close()
		close(s.done)
		return fmt.Errorf("%w: closed during start", stt.ErrStream)
	}
	s.ready.Store(true)
	s.logger.Info().Str("url", s.url).Int("sampleRate", s.cfg.SampleRateHz).Msg("live stream opened")

	go s.readLoop(conn, cb)
	return nil
}

// Ready reports whether frames are accepted.
func (s *Stream) Ready() bool {
	return s.ready.Load()
}

// SendAudio writes one binary frame, or returns ErrNotReady without
// touching the socket.
func (s *Stream) SendAudio(ctx context.Context, audio []byte) error {
	if !s.ready.Load() {
		return stt.ErrNotReady
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.ready.Load() {
		return stt.ErrNotReady
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		s.ready.Store(false)
		return fmt.Errorf("%w: send frame: %v", stt.ErrStream, err)
	}
	return nil
}

// Close closes the socket. The read loop reports OnClose(nil).
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.ready.Store(false)

	s.writeMu.Lock()
	conn := s.conn
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	s.writeMu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	s.logger.Info().Msg("live stream closed")
	return err
}

// Done is closed when the read loop exits.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) readLoop(conn Conn, cb stt.Callback) {
	defer close(s.done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.ready.Store(false)
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cb.OnClose(nil)
				return
			}
			s.logger.Error().Err(err).Msg("live stream read failed")
			streamErr := fmt.Errorf("%w: %v", stt.ErrStream, err)
			cb.OnError(streamErr)
			cb.OnClose(streamErr)
			return
		}
		s.dispatch(data, cb)
	}
}

func (s *Stream) dispatch(data []byte, cb stt.Callback) {
	var msg liveMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn().Err(err).Msg("unparseable live message")
		return
	}

	switch models.EventKind(msg.Event) {
	case models.EventConnected:
		s.logger.Info().Str("requestId", msg.RequestID).Msg("provider connected")
		cb.OnConnected(msg.RequestID)
	case models.EventTranscript:
		kind := models.TranscriptPartial
		if msg.Type == string(models.TranscriptFinal) {
			kind = models.TranscriptFinal
		}
		cb.OnTranscript(models.Transcript{
			Kind:      kind,
			Text:      msg.Transcription,
			Language:  msg.Language,
			StartTime: msg.TimeBegin,
			EndTime:   msg.TimeEnd,
			Words:     msg.Words,
		})
	case models.EventError:
		s.logger.Error().Str("message", msg.Message).Msg("provider error event")
		cb.OnError(fmt.Errorf("%w: %s", stt.ErrStream, msg.Message))
	default:
		s.logger.Debug().Str("event", msg.Event).Msg("ignoring live message")
	}
}
