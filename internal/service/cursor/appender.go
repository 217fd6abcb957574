// Package cursor owns a session's append position in the destination
// document and serializes appends against it.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/observability/logging"
	"speech-to-notion/internal/observability/metrics"
	"speech-to-notion/internal/store"
)

// ErrClosed is returned by Seed after Close.
var ErrClosed = errors.New("appender closed")

// DefaultStartText is the block written when a target is seeded.
const DefaultStartText = "Starting transcription..."

// Writer appends one text block after a cursor and returns the new block id.
type Writer interface {
	AppendText(ctx context.Context, cursor models.Cursor, text string) (string, error)
}

// Options configures an Appender.
type Options struct {
	SessionID string
	Store     store.CursorStore
	Metrics   *metrics.Metrics
}

// Appender holds the append cursor of one session. Final transcripts are
// queued and appended strictly in FIFO order by a single worker; the next
// append starts only after the previous remote call has returned. A failed
// append never moves the cursor.
type Appender struct {
	sessionID string
	writer    Writer
	store     store.CursorStore
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu         sync.Mutex
	idle       *sync.Cond
	queue      fifo[string]
	busy       bool
	closed     bool
	cursor     *models.Cursor
	generation uint64
}

// NewAppender starts the append worker.
func NewAppender(w Writer, opts Options) *Appender {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Appender{
		sessionID: opts.SessionID,
		writer:    w,
		store:     opts.Store,
		metrics:   metrics.OrDefault(opts.Metrics),
		logger:    logging.WithSession(opts.SessionID).With().Str("component", "cursor").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	a.idle = sync.NewCond(&a.mu)
	go a.run()
	return a
}

// Seed writes startText at the target and points the cursor at the new
// block. It replaces any previous cursor; an append still in flight for the
// old cursor cannot overwrite the new one. On failure the previous cursor is
// kept.
func (a *Appender) Seed(ctx context.Context, target models.Target, startText string) (models.Cursor, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return models.Cursor{}, ErrClosed
	}
	if startText == "" {
		startText = DefaultStartText
	}

	seed := models.Cursor{PageID: target.PageID, AnchorID: target.AnchorID}
	start := time.Now()
	blockID, err := a.writer.AppendText(ctx, seed, startText)
	a.metrics.RecordAppend(err, time.Since(start).Seconds())
	if err != nil {
		return models.Cursor{}, fmt.Errorf("seed cursor: %w", err)
	}
	seed.LastAppendedBlockID = blockID

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return models.Cursor{}, ErrClosed
	}
	a.generation++
	c := seed
	a.cursor = &c
	a.mu.Unlock()

	a.logger.Info().
		Str("pageId", seed.PageID).
		Str("anchorId", seed.AnchorID).
		Str("blockId", blockID).
		Msg("cursor seeded")
	a.save(seed)
	return seed, nil
}

// Enqueue schedules text for appending. Text is dropped when no cursor is
// set, when it is blank, or after Close.
func (a *Appender) Enqueue(text string) bool {
	if strings.TrimSpace(text) == "" {
		a.metrics.RecordAppendDropped("empty")
		return false
	}

	a.mu.Lock()
	switch {
	case a.closed:
		a.mu.Unlock()
		a.metrics.RecordAppendDropped("closed")
		return false
	case a.cursor == nil:
		a.mu.Unlock()
		a.metrics.RecordAppendDropped("no_cursor")
		a.logger.Debug().Msg("no cursor set, transcript not appended")
		return false
	}
	a.queue.push(text)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

// Cursor returns the current cursor. The boolean is false until a target is seeded.
func (a *Appender) Cursor() (models.Cursor, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cursor == nil {
		return models.Cursor{}, false
	}
	return *a.cursor, true
}

// Pending reports queued plus in-flight appends.
func (a *Appender) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.queue.len()
	if a.busy {
		n++
	}
	return n
}

// Drain blocks until every queued append has resolved or the appender is closed.
func (a *Appender) Drain() {
	a.mu.Lock()
	for !a.closed && (a.queue.len() > 0 || a.busy) {
		a.idle.Wait()
	}
	a.mu.Unlock()
}

// Close stops the worker. Queued appends are discarded and an in-flight
// append is cancelled.
func (a *Appender) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	dropped := a.queue.reset()
	a.idle.Broadcast()
	a.mu.Unlock()

	a.cancel()
	<-a.done
	if dropped > 0 {
		a.logger.Warn().Int("dropped", dropped).Msg("discarded queued appends on close")
		for i := 0; i < dropped; i++ {
			a.metrics.RecordAppendDropped("closed")
		}
	}
	return nil
}

func (a *Appender) run() {
	defer close(a.done)
	for {
		text, gen, cur, ok := a.next()
		if !ok {
			select {
			case <-a.wake:
				continue
			case <-a.ctx.Done():
				return
			}
		}
		a.append(text, gen, cur)
	}
}

// next pops the front item and marks the worker busy.
func (a *Appender) next() (string, uint64, models.Cursor, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.cursor == nil {
		return "", 0, models.Cursor{}, false
	}
	text, ok := a.queue.pop()
	if !ok {
		return "", 0, models.Cursor{}, false
	}
	a.busy = true
	return text, a.generation, *a.cursor, true
}

func (a *Appender) append(text string, gen uint64, cur models.Cursor) {
	defer func() {
		a.mu.Lock()
		a.busy = false
		a.idle.Broadcast()
		a.mu.Unlock()
	}()

	start := time.Now()
	blockID, err := a.writer.AppendText(a.ctx, cur, text)
	a.metrics.RecordAppend(err, time.Since(start).Seconds())
	if err != nil {
		a.logger.Error().Err(err).Str("after", cur.After()).Msg("append failed, cursor not advanced")
		return
	}

	a.mu.Lock()
	if gen != a.generation || a.cursor == nil {
		a.mu.Unlock()
		a.metrics.RecordAppendDropped("stale_cursor")
		a.logger.Warn().Str("blockId", blockID).Msg("target changed during append, cursor left unchanged")
		return
	}
	a.cursor.LastAppendedBlockID = blockID
	snapshot := *a.cursor
	a.mu.Unlock()

	a.logger.Debug().Str("blockId", blockID).Msg("cursor advanced")
	a.save(snapshot)
}

func (a *Appender) save(c models.Cursor) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.SaveCursor(ctx, a.sessionID, c); err != nil {
		a.logger.Warn().Err(err).Msg("failed to save cursor snapshot")
	}
}
