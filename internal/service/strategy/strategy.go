// Package strategy turns a session's audio chunks into transcripts. Live
// streams frames over one provider socket; Batch uploads each chunk as an
// independent unit and polls the resulting job.
package strategy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"speech-to-notion/internal/models"
)

// Kind names a strategy.
type Kind string

const (
	KindLive  Kind = "live"
	KindBatch Kind = "batch"
)

var (
	// ErrInvalidChunk is returned for chunks that are not valid base64 audio.
	ErrInvalidChunk = errors.New("invalid audio chunk")
	// ErrPollTimeout is logged when a batch job does not finish within the
	// poll attempt cap.
	ErrPollTimeout = errors.New("transcription poll attempts exhausted")
)

// Sink receives every transcript a strategy produces, partial and final.
type Sink interface {
	Emit(t models.Transcript)
}

// Appender receives final transcript text for the destination document.
type Appender interface {
	Enqueue(text string) bool
}

// Strategy is the per-session transcription policy.
type Strategy interface {
	Kind() Kind
	// HandleAudioChunk accepts one base64 chunk. Results arrive through the
	// Sink; the returned error only reports why the chunk was not accepted.
	HandleAudioChunk(ctx context.Context, chunk string) error
	Close() error
}

func decodeChunk(chunk string) ([]byte, error) {
	if chunk == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidChunk)
	}
	audio, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChunk, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidChunk)
	}
	return audio, nil
}
