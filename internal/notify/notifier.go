// Package notify delivers operator alerts about sync runs to chat channels.
// Messages are filtered by event type so operators receive only the alerts
// they asked for.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

// Event types emitted by the sync job.
const (
	EventSyncCompleted = "sync_completed"
	EventSyncError     = "sync_error"
)

// Field is a labelled value rendered beneath the message body.
type Field struct {
	Name  string
	Value string
}

// Message is a channel-agnostic notification.
type Message struct {
	Event  string
	Title  string
	Body   string
	Fields []Field
}

// Sender is implemented by each notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name returns a short identifier such as "telegram".
	Name() string
}

// Notifier fans a message out to every Sender whose event filter accepts it.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events slice allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers msg to all senders when its event type is allowed. A
// failing sender does not prevent delivery to the others; all failures are
// joined into the returned error.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if n == nil || len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[msg.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", msg.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// SyncMessage renders the outcome of a sync run. A non-nil runErr produces a
// sync_error message.
func SyncMessage(service string, res domain.SyncResult, runErr error) Message {
	if runErr != nil {
		return Message{
			Event: EventSyncError,
			Title: fmt.Sprintf("%s failed", service),
			Body:  runErr.Error(),
		}
	}

	msg := Message{
		Event: EventSyncCompleted,
		Title: fmt.Sprintf("%s completed", service),
		Fields: []Field{
			{Name: "fetched", Value: strconv.Itoa(res.Fetched)},
			{Name: "processed", Value: strconv.Itoa(res.Processed)},
			{Name: "skipped existing", Value: strconv.Itoa(res.SkippedExisting)},
			{Name: "skipped creators", Value: strconv.Itoa(res.SkippedCreators)},
			{Name: "skipped invalid", Value: strconv.Itoa(res.SkippedInvalid)},
			{Name: "errors", Value: strconv.Itoa(res.Errors)},
		},
	}
	if res.TimeLimitReached {
		msg.Body = "time limit reached, remaining conditions will be picked up by the next run"
	}
	if res.Cursor != nil {
		msg.Fields = append(msg.Fields, Field{Name: "cursor", Value: res.Cursor.ConditionID})
	}
	return msg
}
