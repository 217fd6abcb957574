// Package mock provides a scripted transcription provider for local runs and
// tests without provider credentials. The live side emits progressive partial
// transcripts followed by exactly one final per utterance; the batch side
// completes jobs after a fixed number of polls.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Bonjour", "Bonjour à", "Bonjour à tous"},
		Final:      "Bonjour à tous, on commence la réunion",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Premier point", "Premier point de"},
		Final:      "Premier point de l'ordre du jour",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Can you", "Can you share", "Can you share the"},
		Final:      "Can you share the meeting notes",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"The release", "The release is", "The release is planned"},
		Final:      "The release is planned for next week",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you everyone",
		Confidence: 0.98,
	},
}

// Options tunes the simulation.
type Options struct {
	Utterances     []SimulatedUtterance
	Language       string
	Delay          time.Duration // delay before each live event
	PollsUntilDone int           // polls answered with processing before done
}

type job struct {
	polls int
	text  string
	conf  float64
}

// Adapter implements stt.Stream and stt.BatchClient with scripted responses.
type Adapter struct {
	opts Options

	mu           sync.Mutex
	cb           stt.Callback
	events       chan func(stt.Callback)
	done         chan struct{}
	started      bool
	closed       bool
	uttIndex     int
	partialIndex int
	audioFrames  int
	jobs         map[string]*job
}

var (
	_ stt.Stream      = (*Adapter)(nil)
	_ stt.BatchClient = (*Adapter)(nil)
)

// utteranceCounter spreads successive adapters across the script.
var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// New creates a mock adapter with default options.
func New() *Adapter {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a mock adapter.
func NewWithOptions(opts Options) *Adapter {
	if len(opts.Utterances) == 0 {
		opts.Utterances = DefaultUtterances
	}
	if opts.Language == "" {
		opts.Language = "fr"
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.PollsUntilDone <= 0 {
		opts.PollsUntilDone = 2
	}

	counterMu.Lock()
	idx := utteranceCounter % len(opts.Utterances)
	utteranceCounter++
	counterMu.Unlock()

	return &Adapter{
		opts:     opts,
		uttIndex: idx,
		done:     make(chan struct{}),
		jobs:     make(map[string]*job),
	}
}

func (a *Adapter) utterance() SimulatedUtterance {
	return a.opts.Utterances[a.uttIndex%len(a.opts.Utterances)]
}

// Start begins a mock live session and reports a connected event.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("%w: already started", stt.ErrStream)
	}
	if a.closed {
		return fmt.Errorf("%w: closed", stt.ErrStream)
	}
	a.started = true
	a.cb = cb
	a.events = make(chan func(stt.Callback), 256)
	go a.emitLoop(cb, a.events)

	requestID := "mock-" + uuid.NewString()
	a.emitLocked(func(cb stt.Callback) { cb.OnConnected(requestID) })
	return nil
}

// Ready reports whether frames are accepted.
func (a *Adapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started && !a.closed
}

// SendAudio advances the script by one step per frame: the next partial,
// or the final once all partials are out. After a final the next utterance
// begins.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started || a.closed {
		return stt.ErrNotReady
	}
	a.audioFrames++

	utt := a.utterance()
	if a.partialIndex < len(utt.Partials) {
		text := utt.Partials[a.partialIndex]
		a.partialIndex++
		a.emitLocked(func(cb stt.Callback) {
			cb.OnTranscript(a.transcript(models.TranscriptPartial, text, 0))
		})
		return nil
	}

	a.emitLocked(func(cb stt.Callback) {
		cb.OnTranscript(a.transcript(models.TranscriptFinal, utt.Final, utt.Confidence))
	})
	a.uttIndex++
	a.partialIndex = 0
	return nil
}

// Close ends the session. An utterance that was started but not finished is
// finalised first so no partial text is lost.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	if a.started && a.partialIndex > 0 {
		utt := a.utterance()
		a.emitLocked(func(cb stt.Callback) {
			cb.OnTranscript(a.transcript(models.TranscriptFinal, utt.Final, utt.Confidence))
		})
	}
	a.closed = true
	if a.events != nil {
		close(a.events)
	} else {
		close(a.done)
	}
	a.mu.Unlock()
	return nil
}

// FramesReceived reports how many frames were accepted.
func (a *Adapter) FramesReceived() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.audioFrames
}

// Done is closed after the last event, including OnClose, was delivered.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// emitLocked queues an event. Callers hold a.mu.
func (a *Adapter) emitLocked(ev func(stt.Callback)) {
	if a.events == nil || a.closed {
		return
	}
	select {
	case a.events <- ev:
	default:
		// Script events are tiny; a full buffer means nobody is consuming.
	}
}

func (a *Adapter) emitLoop(cb stt.Callback, events <-chan func(stt.Callback)) {
	defer close(a.done)
	for ev := range events {
		if a.opts.Delay > 0 {
			time.Sleep(a.opts.Delay)
		}
		ev(cb)
	}
	cb.OnClose(nil)
}

func (a *Adapter) transcript(kind models.TranscriptKind, text string, confidence float64) models.Transcript {
	fields := strings.Fields(text)
	words := make([]models.Word, 0, len(fields))
	for i, w := range fields {
		words = append(words, models.Word{
			Word:       w,
			TimeBegin:  float64(i) * 0.4,
			TimeEnd:    float64(i+1) * 0.4,
			Confidence: confidence,
		})
	}
	return models.Transcript{
		Kind:      kind,
		Text:      text,
		Language:  a.opts.Language,
		StartTime: 0,
		EndTime:   float64(len(fields)) * 0.4,
		Words:     words,
	}
}

// UploadAudio accepts any non-empty audio and returns a mock URL.
func (a *Adapter) UploadAudio(ctx context.Context, audio []byte, filename, contentType string) (models.Upload, error) {
	if len(audio) == 0 {
		return models.Upload{}, fmt.Errorf("%w: empty audio", stt.ErrUpload)
	}
	id := uuid.NewString()
	return models.Upload{
		AudioURL: "mock://audio/" + id,
		AudioMetadata: models.AudioMetadata{
			ID:       id,
			Filename: filename,
			Size:     int64(len(audio)),
		},
	}, nil
}

// SubmitJob registers a job that will transcribe to the next scripted final.
func (a *Adapter) SubmitJob(ctx context.Context, req models.JobRequest) (models.JobRef, error) {
	if req.AudioURL == "" {
		return models.JobRef{}, fmt.Errorf("%w: missing audio_url", stt.ErrSubmit)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	utt := a.utterance()
	a.uttIndex++
	id := uuid.NewString()
	a.jobs[id] = &job{text: utt.Final, conf: utt.Confidence}
	return models.JobRef{ID: id, ResultURL: "mock://transcription/" + id}, nil
}

// PollJob reports queued, then processing, then done after PollsUntilDone polls.
func (a *Adapter) PollJob(ctx context.Context, id string) (models.JobSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	j, ok := a.jobs[id]
	if !ok {
		return models.JobSnapshot{}, fmt.Errorf("%w: unknown job %s", stt.ErrPoll, id)
	}
	j.polls++

	snap := models.JobSnapshot{ID: id, Status: models.JobProcessing}
	switch {
	case j.polls == 1 && j.polls < a.opts.PollsUntilDone:
		snap.Status = models.JobQueued
	case j.polls >= a.opts.PollsUntilDone:
		snap.Status = models.JobDone
		snap.Result = &models.JobResult{}
		snap.Result.Transcription.FullTranscript = j.text
		snap.Result.Transcription.Languages = []string{a.opts.Language}
	}
	return snap, nil
}
