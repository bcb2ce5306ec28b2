package internal_store

import (
	"context"
	"sync"
	"time"

	"github.com/ringbridge/pkg/commons"
	"github.com/ringbridge/pkg/utils"
)

const writerQueueSize = 512

type writeOp struct {
	events      []*EventRecord
	transcripts []*TranscriptRecord
}

// AsyncWriter decouples the audio path from the database. Sessions queue
// their events and transcripts here; a single background goroutine performs
// the inserts. When the queue is full the write is dropped with a warning
// rather than stalling a live call.
type AsyncWriter struct {
	logger commons.Logger
	store  Store

	mu     sync.Mutex
	queue  chan writeOp
	closed bool
	done   chan struct{}
}

// NewAsyncWriter starts the background writer. It stops when Close is called
// or the context ends.
func NewAsyncWriter(ctx context.Context, logger commons.Logger, store Store) *AsyncWriter {
	w := &AsyncWriter{
		logger: logger,
		store:  store,
		queue:  make(chan writeOp, writerQueueSize),
		done:   make(chan struct{}),
	}
	utils.Go(ctx, func() { w.run(ctx) })
	return w
}

// QueueEvents schedules event rows for insertion. Never blocks.
func (w *AsyncWriter) QueueEvents(events []*EventRecord) {
	if len(events) == 0 {
		return
	}
	w.enqueue(writeOp{events: events})
}

// QueueTranscripts schedules transcript rows for insertion. Never blocks.
func (w *AsyncWriter) QueueTranscripts(transcripts []*TranscriptRecord) {
	if len(transcripts) == 0 {
		return
	}
	w.enqueue(writeOp{transcripts: transcripts})
}

func (w *AsyncWriter) enqueue(op writeOp) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- op:
	default:
		w.logger.Warnf("Store writer queue full, dropping %d events and %d transcripts",
			len(op.events), len(op.transcripts))
	}
}

func (w *AsyncWriter) run(ctx context.Context) {
	defer close(w.done)
	for op := range w.queue {
		w.flush(ctx, op)
	}
}

func (w *AsyncWriter) flush(ctx context.Context, op writeOp) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if len(op.events) > 0 {
		if err := w.store.AppendEvents(writeCtx, op.events); err != nil {
			w.logger.Errorf("Failed to persist events: %v", err)
		}
	}
	if len(op.transcripts) > 0 {
		if err := w.store.AppendTranscripts(writeCtx, op.transcripts); err != nil {
			w.logger.Errorf("Failed to persist transcripts: %v", err)
		}
	}
}

// Close drains outstanding writes and stops the writer.
func (w *AsyncWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(15 * time.Second):
		w.logger.Warnf("Store writer did not drain in time")
	}
}
