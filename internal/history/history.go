package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/xchainctl/internal/record"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventRestart EventType = "restart"
	EventPrune   EventType = "prune"
)

// Event is one node lifecycle transition exported to analytics systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	PID        int       `json:"pid"`
	Exe        string    `json:"exe,omitempty"`
	// Endpoint is the node's admin address at the time of the event.
	Endpoint string `json:"endpoint,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewEvent captures rec at the current time. A non-nil err is stored as text.
func NewEvent(t EventType, rec record.ServerRecord, err error) Event {
	e := Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Name:       rec.Name,
		Kind:       rec.Kind.String(),
		PID:        rec.PID,
		Exe:        rec.Exe,
		Endpoint:   rec.AdminAddr(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

const defaultSendTimeout = 3 * time.Second

// Recorder fans events out to every sink. Sink failures are logged and never
// returned, so history can not fail a lifecycle operation. A nil Recorder is a no-op.
type Recorder struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, logger: logger, timeout: defaultSendTimeout}
}

// Record sends e to each sink with a bounded timeout, detached from ctx cancellation.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		if err := s.Send(sctx, e); err != nil {
			r.logger.Warn("history sink failed", "event", e.Type, "name", e.Name, "error", err)
		}
		cancel()
	}
}

// Close closes the sinks that hold connections.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
