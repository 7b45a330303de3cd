package eventlog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueSize is the number of events buffered before Record starts
// dropping.
const DefaultQueueSize = 256

// handlerTimeout bounds a single handler invocation.
const handlerTimeout = 2 * time.Second

// Handler consumes events on the recorder goroutine.
type Handler interface {
	HandleEvent(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, e Event) error

// HandleEvent calls f(ctx, e).
func (f HandlerFunc) HandleEvent(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a Logger that discards all output.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type namedHandler struct {
	name    string
	handler Handler
}

// Recorder is an asynchronous Sink that fans events out to handlers.
//
// Thread Safety:
//   - Record is safe to call from any goroutine and never blocks.
//   - AddHandler must be called before Start.
type Recorder struct {
	robotID  string
	queue    chan Event
	handlers []namedHandler
	logger   Logger

	dropped  atomic.Uint64
	recorded atomic.Uint64

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRecorder creates a Recorder that stamps events with robotID.
// A queueSize of zero or less uses DefaultQueueSize.
func NewRecorder(robotID string, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Recorder{
		robotID: robotID,
		queue:   make(chan Event, queueSize),
		logger:  noopLogger{},
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger used to report handler failures.
func (r *Recorder) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	r.logger = l
}

// AddHandler registers a named handler. Names only appear in logs.
func (r *Recorder) AddHandler(name string, h Handler) {
	r.handlers = append(r.handlers, namedHandler{name: name, handler: h})
}

// Record enqueues an event. It never blocks; when the queue is full the
// event is dropped and counted.
func (r *Recorder) Record(name, message string) {
	e := Event{
		ID:        "evt-" + uuid.NewString()[:8],
		RobotID:   r.robotID,
		Name:      name,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	select {
	case r.queue <- e:
		r.recorded.Add(1)
	default:
		r.dropped.Add(1)
	}
}

// Start launches the dispatch goroutine. It returns immediately.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx)
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case e := <-r.queue:
			r.dispatch(e)
		}
	}
}

// drain delivers whatever is already queued without waiting for more.
func (r *Recorder) drain() {
	for {
		select {
		case e := <-r.queue:
			r.dispatch(e)
		default:
			return
		}
	}
}

func (r *Recorder) dispatch(e Event) {
	for _, h := range r.handlers {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		err := safeHandle(ctx, h.handler, e)
		cancel()
		if err != nil {
			r.logger.Warn("event handler failed",
				"handler", h.name,
				"event", e.Name,
				"error", err,
			)
		}
	}
}

func safeHandle(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &handlerPanic{value: rec}
		}
	}()
	return h.HandleEvent(ctx, e)
}

// Close stops the dispatch goroutine after delivering queued events.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	cancel := r.cancel
	r.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	<-r.done
	return nil
}

// Stats reports recorder counters.
type Stats struct {
	Recorded uint64 `json:"recorded"`
	Dropped  uint64 `json:"dropped"`
	Queued   int    `json:"queued"`
}

// Stats returns a snapshot of recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Queued:   len(r.queue),
	}
}
