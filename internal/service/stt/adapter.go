// Package stt defines the transcription provider contracts: a live stream
// for the Live strategy and a job client for the Batch strategy.
package stt

import (
	"context"
	"errors"

	"speech-to-notion/internal/models"
)

var (
	ErrUpload   = errors.New("audio upload failed")
	ErrSubmit   = errors.New("transcription job submit failed")
	ErrPoll     = errors.New("transcription job poll failed")
	ErrStream   = errors.New("transcription stream failed")
	ErrNotReady = errors.New("transcription stream not ready")
)

// Callback receives events from a live Stream. Calls are made from the
// stream's read goroutine, one at a time and in arrival order.
type Callback interface {
	// OnConnected is called once the provider acknowledges the handshake.
	OnConnected(requestID string)

	// OnTranscript is called for each partial or final transcript.
	OnTranscript(t models.Transcript)

	// OnError is called for provider error events and transport failures.
	OnError(err error)

	// OnClose is called exactly once when the stream stops delivering
	// events. err is nil for a clean close.
	OnClose(err error)
}

// StreamConfig is the handshake sent once when a live stream opens.
type StreamConfig struct {
	SampleRateHz      int
	Encoding          string
	LanguageBehaviour string
	Language          string
	ContextHint       string
	InterimResults    bool
}

// Stream is one long-lived live transcription connection.
type Stream interface {
	// Start connects, sends the handshake exactly once and begins
	// delivering events to cb.
	Start(ctx context.Context, cb Callback) error

	// SendAudio forwards one binary frame. It returns ErrNotReady without
	// touching the transport when the stream is not ready.
	SendAudio(ctx context.Context, audio []byte) error

	// Ready reports whether frames are currently accepted.
	Ready() bool

	// Close ends the stream and releases resources.
	Close() error
}

// BatchClient is the upload-then-poll side of a provider.
type BatchClient interface {
	UploadAudio(ctx context.Context, audio []byte, filename, contentType string) (models.Upload, error)
	SubmitJob(ctx context.Context, req models.JobRequest) (models.JobRef, error)
	// PollJob is a pure read; the caller owns the retry cadence.
	PollJob(ctx context.Context, id string) (models.JobSnapshot, error)
}
