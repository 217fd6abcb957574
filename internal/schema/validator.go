// Package schema defines the relay socket envelope and validates inbound
// messages before they reach a session.
package schema

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound events.
const (
	EventAudioFrame      = "audioFrame"
	EventSetTarget       = "setTarget"
	EventSetNotionTarget = "setNotionTarget"
	EventCheckAccess     = "checkAccess"
)

// Outbound events.
const (
	EventTranscriptionResult = "transcriptionResult"
	EventTargetResponse      = "targetResponse"
	EventAccessResponse      = "accessResponse"
	EventSessionStarted      = "sessionStarted"
	EventError               = "error"
)

// MaxAudioBytes caps one decoded audio frame.
const MaxAudioBytes = 25 << 20

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrInvalidData  = errors.New("invalid message data")
)

// Envelope is the JSON frame exchanged on the relay socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an outbound envelope.
func NewEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Message is a validated inbound message. Audio is set for audioFrame, URL
// for the target and access events.
type Message struct {
	Event string
	Audio string
	URL   string
}

type targetData struct {
	URL       string `json:"url"`
	NotionURL string `json:"notionUrl"`
}

// Validator checks inbound envelopes.
type Validator struct {
	maxAudioBytes int
}

// New returns a Validator with the default frame cap.
func New() *Validator {
	return &Validator{maxAudioBytes: MaxAudioBytes}
}

// WithMaxAudioBytes overrides the decoded frame cap.
func (v *Validator) WithMaxAudioBytes(n int) *Validator {
	v.maxAudioBytes = n
	return v
}

// Parse decodes and validates one raw socket message.
func (v *Validator) Parse(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return v.Validate(env)
}

// Validate checks the envelope's event and payload.
func (v *Validator) Validate(env Envelope) (Message, error) {
	msg := Message{Event: env.Event}
	switch env.Event {
	case EventAudioFrame:
		var chunk string
		if err := json.Unmarshal(env.Data, &chunk); err != nil {
			return msg, fmt.Errorf("%w: audio must be a base64 string", ErrInvalidData)
		}
		if chunk == "" {
			return msg, fmt.Errorf("%w: empty audio", ErrInvalidData)
		}
		if base64.StdEncoding.DecodedLen(len(chunk)) > v.maxAudioBytes {
			return msg, fmt.Errorf("%w: audio frame exceeds %d bytes", ErrInvalidData, v.maxAudioBytes)
		}
		msg.Audio = chunk
		return msg, nil

	case EventSetTarget, EventSetNotionTarget, EventCheckAccess:
		url, err := parseURL(env.Data)
		if err != nil {
			return msg, err
		}
		msg.URL = url
		// setNotionTarget is the legacy name of setTarget.
		if msg.Event == EventSetNotionTarget {
			msg.Event = EventSetTarget
		}
		return msg, nil

	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// parseURL accepts {url}, {notionUrl} or a bare string.
func parseURL(data json.RawMessage) (string, error) {
	var url string
	if err := json.Unmarshal(data, &url); err != nil {
		var td targetData
		if err := json.Unmarshal(data, &td); err != nil {
			return "", fmt.Errorf("%w: expected {url}", ErrInvalidData)
		}
		url = td.URL
		if url == "" {
			url = td.NotionURL
		}
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return "", fmt.Errorf("%w: empty url", ErrInvalidData)
	}
	return url, nil
}
