package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/observability/logging"
	"speech-to-notion/internal/schema"
)

// Base64 inflates by 4/3; leave room for the envelope.
const maxMessageBytes = schema.MaxAudioBytes/3*4 + 64<<10

const targetTimeout = 30 * time.Second

// Handler upgrades relay connections and runs one session per socket.
type Handler struct {
	deps      SessionDeps
	validator *schema.Validator
	upgrader  websocket.Upgrader
	logger    zerolog.Logger

	wg sync.WaitGroup
}

// NewHandler builds the relay socket handler. deps.Hub must be running.
func NewHandler(deps SessionDeps, validator *schema.Validator) *Handler {
	if validator == nil {
		validator = schema.New()
	}
	return &Handler{
		deps:      deps,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logging.WithComponent("relay"),
	}
}

type sessionStarted struct {
	SessionID string `json:"sessionId"`
	Strategy  string `json:"strategy"`
}

type targetResponse struct {
	Status  string         `json:"status"`
	Cursor  *models.Cursor `json:"cursor,omitempty"`
	Message string         `json:"message,omitempty"`
}

type accessResponse struct {
	AnchorID string `json:"anchorId,omitempty"`
	Error    string `json:"error,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	id := uuid.NewString()
	client := newClient(id, conn)
	go client.writePump()

	session, err := NewSession(id, h.deps)
	if err != nil {
		h.logger.Error().Err(err).Str("sessionId", id).Msg("failed to create session")
		h.reply(client, schema.EventError, errorResponse{Message: err.Error()})
		client.close()
		return
	}
	h.deps.Hub.Register(client)
	h.reply(client, schema.EventSessionStarted, sessionStarted{SessionID: id, Strategy: string(session.StrategyKind())})

	var pending sync.WaitGroup
	h.wg.Add(1)
	defer func() {
		session.Close()
		pending.Wait()
		h.deps.Hub.Unregister(client)
		h.wg.Done()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				session.logger.Warn().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		msg, err := h.validator.Parse(raw)
		if err != nil {
			session.logger.Debug().Err(err).Msg("rejected message")
			h.reply(client, schema.EventError, errorResponse{Message: err.Error()})
			continue
		}

		switch msg.Event {
		case schema.EventAudioFrame:
			if err := session.HandleAudio(msg.Audio); err != nil {
				session.logger.Debug().Err(err).Msg("audio frame not accepted")
			}
		case schema.EventSetTarget:
			pending.Add(1)
			go func(url string) {
				defer pending.Done()
				h.setTarget(session, client, url)
			}(msg.URL)
		case schema.EventCheckAccess:
			pending.Add(1)
			go func(url string) {
				defer pending.Done()
				h.checkAccess(session, client, url)
			}(msg.URL)
		}
	}
}

func (h *Handler) setTarget(s *Session, c *Client, url string) {
	ctx, cancel := context.WithTimeout(s.ctx, targetTimeout)
	defer cancel()

	cur, err := s.SetTarget(ctx, url)
	if err != nil {
		if !errors.Is(err, ErrSessionClosed) {
			s.logger.Warn().Err(err).Msg("set target failed")
		}
		h.reply(c, schema.EventTargetResponse, targetResponse{Status: "error", Message: err.Error()})
		return
	}
	h.reply(c, schema.EventTargetResponse, targetResponse{Status: "success", Cursor: &cur})
}

func (h *Handler) checkAccess(s *Session, c *Client, url string) {
	ctx, cancel := context.WithTimeout(s.ctx, targetTimeout)
	defer cancel()

	anchor, err := s.CheckAccess(ctx, url)
	if err != nil {
		h.reply(c, schema.EventAccessResponse, accessResponse{Error: err.Error()})
		return
	}
	h.reply(c, schema.EventAccessResponse, accessResponse{AnchorID: anchor})
}

func (h *Handler) reply(c *Client, event string, data any) {
	msg, err := schema.NewEnvelope(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("failed to encode reply")
		return
	}
	if !c.Send(msg) {
		c.logger.Warn().Str("event", event).Msg("reply dropped")
	}
}

// Wait blocks until every open session has ended.
func (h *Handler) Wait() {
	h.wg.Wait()
}
