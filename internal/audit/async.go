package audit

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the queue depth of an AsyncSink.
const DefaultBufferSize = 256

// drainTimeout bounds how long Stop waits for queued records to flush.
const drainTimeout = 5 * time.Second

// AsyncSink decouples audit submission from persistence: records are handed
// to a buffered channel and written by a single worker goroutine. When the
// buffer is full the record is dropped with a log line — audit must never
// stall or fail a session.
type AsyncSink struct {
	dst Sink
	ch  chan func(context.Context)

	stopOnce sync.Once
	stopped  atomic.Bool
	quit     chan struct{}
	done     chan struct{}
}

// NewAsyncSink starts the worker and returns the sink. bufferSize <= 0 uses
// DefaultBufferSize.
func NewAsyncSink(dst Sink, bufferSize int) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	s := &AsyncSink{
		dst:  dst,
		ch:   make(chan func(context.Context), bufferSize),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for {
		select {
		case submit := <-s.ch:
			submit(context.Background())
		case <-s.quit:
			// Drain whatever was queued before Stop; late Submit calls
			// are rejected in enqueue, so this terminates.
			for {
				select {
				case submit := <-s.ch:
					submit(context.Background())
				default:
					return
				}
			}
		}
	}
}

// Stop flushes queued records and stops the worker. Safe to call more than
// once; submissions after Stop are dropped.
func (s *AsyncSink) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.quit)
		select {
		case <-s.done:
		case <-time.After(drainTimeout):
			log.Printf("audit: drain timed out, records may be lost")
		}
	})
}

func (s *AsyncSink) enqueue(kind string, submit func(context.Context)) {
	if s.stopped.Load() {
		log.Printf("audit: sink stopped, dropping %s record", kind)
		return
	}
	select {
	case s.ch <- submit:
	default:
		log.Printf("audit: buffer full, dropping %s record", kind)
	}
}

// SubmitCommand enqueues a command log record.
func (s *AsyncSink) SubmitCommand(_ context.Context, rec Command) {
	s.enqueue("command", func(ctx context.Context) { s.dst.SubmitCommand(ctx, rec) })
}

// SubmitBlocked enqueues a blocklist hit record.
func (s *AsyncSink) SubmitBlocked(_ context.Context, rec BlockedCommand) {
	s.enqueue("blocked-command", func(ctx context.Context) { s.dst.SubmitBlocked(ctx, rec) })
}

// SubmitFileOperation enqueues a file operation record.
func (s *AsyncSink) SubmitFileOperation(_ context.Context, rec FileOperation) {
	s.enqueue("file-operation", func(ctx context.Context) { s.dst.SubmitFileOperation(ctx, rec) })
}

// SubmitReplay enqueues a replay upload record.
func (s *AsyncSink) SubmitReplay(_ context.Context, rec Replay) {
	s.enqueue("replay", func(ctx context.Context) { s.dst.SubmitReplay(ctx, rec) })
}
