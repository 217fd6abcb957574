// Package models defines the data structures shared between the relay,
// the transcription strategies and the provider clients.
package models

// EventKind tags the variants of a provider Event.
type EventKind string

const (
	EventTranscript EventKind = "transcript"
	EventConnected  EventKind = "connected"
	EventError      EventKind = "error"
)

// TranscriptKind distinguishes settled text from interim text.
type TranscriptKind string

const (
	TranscriptPartial TranscriptKind = "partial"
	TranscriptFinal   TranscriptKind = "final"
)

// Word is a single recognised word with its timing.
type Word struct {
	Word       string  `json:"word"`
	TimeBegin  float64 `json:"time_begin"`
	TimeEnd    float64 `json:"time_end"`
	Confidence float64 `json:"confidence"`
}

// Transcript is a partial or final transcription result.
type Transcript struct {
	Kind      TranscriptKind `json:"type"`
	Text      string         `json:"transcription"`
	Language  string         `json:"language"`
	StartTime float64        `json:"time_begin"`
	EndTime   float64        `json:"time_end"`
	Words     []Word         `json:"words"`
}

// IsFinal reports whether the transcript is settled.
func (t Transcript) IsFinal() bool {
	return t.Kind == TranscriptFinal
}

// Event is the tagged union delivered by a transcription provider.
// Exactly one of Transcript, RequestID or Message is meaningful, selected by Kind.
type Event struct {
	Kind       EventKind
	Transcript Transcript
	RequestID  string
	Message    string
}

// TranscriptResult is the broadcast shape of a transcript event. It mirrors the
// provider's own event JSON so viewers can parse either.
type TranscriptResult struct {
	Event     string         `json:"event"`
	SessionID string         `json:"sessionId"`
	Type      TranscriptKind `json:"type"`
	Text      string         `json:"transcription"`
	Language  string         `json:"language"`
	TimeBegin float64        `json:"time_begin"`
	TimeEnd   float64        `json:"time_end"`
	Duration  float64        `json:"duration"`
	Words     []Word         `json:"words"`
	Timestamp int64          `json:"timestamp"`
}

// NewTranscriptResult builds the broadcast form of a transcript.
func NewTranscriptResult(sessionID string, t Transcript, timestamp int64) TranscriptResult {
	words := t.Words
	if words == nil {
		words = []Word{}
	}
	return TranscriptResult{
		Event:     string(EventTranscript),
		SessionID: sessionID,
		Type:      t.Kind,
		Text:      t.Text,
		Language:  t.Language,
		TimeBegin: t.StartTime,
		TimeEnd:   t.EndTime,
		Duration:  t.EndTime - t.StartTime,
		Words:     words,
		Timestamp: timestamp,
	}
}
