package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/storekeep/storekeep-core/internal/infrastructure/metrics"
)

// Logger defines the logging interface used by the Recorder.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// writeTimeout bounds a single audit persistence attempt.
const writeTimeout = 5 * time.Second

// defaultQueueSize is the queue length used when the configured size
// is missing or invalid.
const defaultQueueSize = 256

// Recorder accepts audit entries without blocking the caller. Entries
// are queued on a buffered channel and written by a single drain
// goroutine, which preserves enqueue order. A full queue drops the
// entry with a warning; a failed write is logged and counted but never
// surfaces to the operation that produced the entry.
type Recorder struct {
	repo    Repository
	queue   chan Entry
	logger  Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	seq    int64
	closed bool

	done chan struct{}
}

// NewRecorder creates a recorder draining into the given repository.
// Call Start before recording and Close on shutdown.
func NewRecorder(repo Repository, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Recorder{
		repo:   repo,
		queue:  make(chan Entry, queueSize),
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// SetMetrics sets the metrics sink for the recorder.
func (r *Recorder) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Start resumes the sequence counter from the highest persisted value
// and launches the drain goroutine. Restarting the process therefore
// keeps seq strictly monotonic across the whole trail.
func (r *Recorder) Start(ctx context.Context) error {
	maxSeq, err := r.repo.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("resuming audit sequence: %w", err)
	}

	r.mu.Lock()
	r.seq = maxSeq
	r.mu.Unlock()

	go r.drain()
	return nil
}

// Record enqueues an entry for persistence and returns immediately.
// Redaction, sequence assignment, and the creation timestamp all happen
// here at call time; the seq counter and the queue are advanced under
// one lock so sequence order matches queue order.
func (r *Recorder) Record(entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	entry.Before = redactMap(entry.Before)
	entry.After = redactMap(entry.After)
	entry.Metadata = redactMap(entry.Metadata)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.logger.Warn("audit recorder closed, entry dropped", "action", entry.Action)
		r.recordMetric(metrics.AuditDropped)
		return
	}

	r.seq++
	entry.Seq = r.seq

	select {
	case r.queue <- entry:
	default:
		r.logger.Warn("audit queue full, entry dropped",
			"action", entry.Action, "seq", entry.Seq)
		r.recordMetric(metrics.AuditDropped)
	}
}

// Close stops intake and blocks until queued entries are written.
func (r *Recorder) Close() {
	r.mu.Lock()
	alreadyClosed := r.closed
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	if !alreadyClosed {
		<-r.done
	}
}

// drain writes queued entries one at a time until the queue closes.
func (r *Recorder) drain() {
	defer close(r.done)

	for entry := range r.queue {
		r.write(entry)
	}
}

// write persists a single entry. The caller's request context is long
// gone by the time the drain runs, so each write gets its own deadline.
func (r *Recorder) write(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, &entry); err != nil {
		r.logger.Error("audit write failed",
			"action", entry.Action, "seq", entry.Seq, "error", err)
		r.recordMetric(metrics.AuditFailed)
		return
	}
	r.recordMetric(metrics.AuditWritten)
}

func (r *Recorder) recordMetric(status string) {
	if r.metrics != nil {
		r.metrics.RecordAuditEntry(status)
	}
}
