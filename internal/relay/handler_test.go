package relay

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/observability/metrics"
	"speech-to-notion/internal/schema"
)

type relayFixture struct {
	server  *httptest.Server
	handler *Handler
	factory *fakeFactory
	docs    *fakeDocs
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	hub := NewHub(m)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	f := &relayFixture{
		factory: &fakeFactory{},
		docs:    &fakeDocs{denied: map[string]bool{"locked": true}},
	}
	f.handler = NewHandler(SessionDeps{
		Strategies: f.factory,
		Documents:  f.docs,
		Hub:        hub,
		Metrics:    m,
	}, nil)
	f.server = httptest.NewServer(f.handler)
	t.Cleanup(func() {
		f.server.Close()
		cancel()
		<-hub.Done()
	})
	return f
}

func (f *relayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) schema.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env schema.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := schema.NewEnvelope(event, data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHandler_SessionStarted(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)

	env := readEnvelope(t, conn)
	if env.Event != schema.EventSessionStarted {
		t.Fatalf("expected sessionStarted, got %s", env.Event)
	}
	var started sessionStarted
	_ = json.Unmarshal(env.Data, &started)
	if started.SessionID == "" || started.Strategy != "live" {
		t.Errorf("unexpected payload %+v", started)
	}
}

func TestHandler_SetTarget(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)
	readEnvelope(t, conn)

	send(t, conn, schema.EventSetTarget, map[string]string{"url": "https://docs.test/page1#a1"})
	env := readEnvelope(t, conn)
	if env.Event != schema.EventTargetResponse {
		t.Fatalf("expected targetResponse, got %s", env.Event)
	}
	var resp targetResponse
	_ = json.Unmarshal(env.Data, &resp)
	if resp.Status != "success" || resp.Cursor == nil || resp.Cursor.LastAppendedBlockID != "block-1" {
		t.Errorf("unexpected response %+v", resp)
	}

	send(t, conn, schema.EventSetNotionTarget, map[string]string{"notionUrl": "https://docs.test/locked"})
	env = readEnvelope(t, conn)
	resp = targetResponse{}
	_ = json.Unmarshal(env.Data, &resp)
	if resp.Status != "error" || resp.Message == "" {
		t.Errorf("expected error response, got %+v", resp)
	}
}

func TestHandler_CheckAccess(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)
	readEnvelope(t, conn)

	send(t, conn, schema.EventCheckAccess, map[string]string{"url": "https://docs.test/page1#a1"})
	env := readEnvelope(t, conn)
	var resp accessResponse
	_ = json.Unmarshal(env.Data, &resp)
	if env.Event != schema.EventAccessResponse || resp.AnchorID != "a1" {
		t.Errorf("unexpected %s %+v", env.Event, resp)
	}

	send(t, conn, schema.EventCheckAccess, "https://other.test/x")
	env = readEnvelope(t, conn)
	resp = accessResponse{}
	_ = json.Unmarshal(env.Data, &resp)
	if resp.Error == "" {
		t.Errorf("expected error, got %+v", resp)
	}
}

func TestHandler_InvalidMessage(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)
	readEnvelope(t, conn)

	send(t, conn, "dance", "x")
	if env := readEnvelope(t, conn); env.Event != schema.EventError {
		t.Errorf("expected error event, got %s", env.Event)
	}
}

func TestHandler_AudioAndBroadcast(t *testing.T) {
	f := newRelayFixture(t)
	source := f.dial(t)
	readEnvelope(t, source)
	viewer := f.dial(t)
	readEnvelope(t, viewer)

	send(t, source, schema.EventAudioFrame, "YWJj")
	waitFor(t, func() bool {
		s := f.factory.at(0)
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.chunks) == 1
	})

	f.factory.at(0).deliver(models.Transcript{Kind: models.TranscriptPartial, Text: "bonjour"})

	for _, conn := range []*websocket.Conn{source, viewer} {
		env := readEnvelope(t, conn)
		if env.Event != schema.EventTranscriptionResult {
			t.Fatalf("expected transcriptionResult, got %s", env.Event)
		}
		var payload string
		_ = json.Unmarshal(env.Data, &payload)
		if !strings.Contains(payload, `"transcription":"bonjour"`) {
			t.Errorf("unexpected payload %s", payload)
		}
	}
}

func TestHandler_DisconnectClosesStrategy(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)
	readEnvelope(t, conn)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	waitFor(t, func() bool { return f.factory.last().isClosed() })
	f.handler.Wait()
}
