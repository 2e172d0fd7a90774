package calllog

import (
	"context"
	"sync"
	"time"

	"github.com/callcenter/dialer/internal/logging"
	"github.com/callcenter/dialer/internal/metrics"
	"github.com/callcenter/dialer/internal/model"
)

// Sink persists call log entries. Implementations should honor ctx.
type Sink interface {
	Name() string
	SaveCallLog(ctx context.Context, entry model.CallLogEntry) error
}

// Writer hands entries to every sink from a single goroutine, in the order
// they were enqueued. Enqueue never blocks on a sink. Sink errors are logged
// and counted; entries are not retried.
type Writer struct {
	sinks   []Sink
	timeout time.Duration
	log     *logging.Logger

	mu      sync.Mutex
	queue   []model.CallLogEntry
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	written int
}

func NewWriter(log *logging.Logger, timeout time.Duration, sinks ...Sink) *Writer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &Writer{
		sinks:   sinks,
		timeout: timeout,
		log:     log.For("calllog"),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) Enqueue(entry model.CallLogEntry) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.log.Warn("writer closed, dropping attempt=%s", entry.AttemptID)
		return
	}
	w.queue = append(w.queue, entry)
	// wake is closed only under mu, so the send cannot race Close.
	select {
	case w.wake <- struct{}{}:
	default:
	}
	w.mu.Unlock()
}

// Written reports how many entries have been handed to every sink.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close drains the queue and stops the writer goroutine, or gives up when
// ctx is done.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.wake)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.wake
			continue
		}
		entry := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.write(entry)

		w.mu.Lock()
		w.written++
		w.mu.Unlock()
	}
}

func (w *Writer) write(entry model.CallLogEntry) {
	for _, s := range w.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := s.SaveCallLog(ctx, entry)
		cancel()
		if err != nil {
			metrics.PersistenceErrors.WithLabelValues(s.Name()).Inc()
			w.log.Error("persist call log attempt=%s sink=%s: %v", entry.AttemptID, s.Name(), err)
		}
	}
}
