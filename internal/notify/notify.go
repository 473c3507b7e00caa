// Package notify publishes job status changes to interested listeners.
// Delivery is best-effort and at-most-once: events are published after the
// transition committed and a failed publish is never retried.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/maauso/autocut-api/internal/job"
)

// EventStatusChanged is the type of events emitted after a committed transition.
const EventStatusChanged = "job.status_changed"

// Event describes a committed job status change.
type Event struct {
	Type         string     `json:"type"`
	JobID        string     `json:"job_id"`
	UserID       string     `json:"user_id"`
	From         job.Status `json:"from"`
	To           job.Status `json:"to"`
	Progress     int        `json:"progress"`
	CurrentStep  string     `json:"current_step,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// StatusChanged builds the event for a job that moved from from to its current status.
func StatusChanged(j *job.Job, from job.Status) Event {
	c := j.Clone()
	return Event{
		Type:         EventStatusChanged,
		JobID:        c.ID,
		UserID:       c.UserID,
		From:         from,
		To:           c.Status,
		Progress:     c.Progress,
		CurrentStep:  c.CurrentStep,
		ErrorMessage: c.ErrorMessage,
		OccurredAt:   c.UpdatedAt,
	}
}

// Notifier publishes events.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// LogNotifier writes events to the logger. It is the default when no broker
// is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the event.
func (n *LogNotifier) Notify(ctx context.Context, e Event) error {
	n.logger.InfoContext(ctx, "job status changed",
		slog.String("job_id", e.JobID),
		slog.String("user_id", e.UserID),
		slog.String("from", string(e.From)),
		slog.String("to", string(e.To)),
		slog.Int("progress", e.Progress),
	)
	return nil
}

// Noop drops every event.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, Event) error { return nil }

func encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}
