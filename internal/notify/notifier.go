// Package notify delivers change-event alerts to chat channels. Each
// Notifier fans out to every registered Sender and forwards only the event
// types it was configured for.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

// DefaultEvents are forwarded when no event filter is configured.
var DefaultEvents = []string{string(domain.EventResolved), string(domain.EventClosed)}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to its senders.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. events lists the event types to forward;
// empty means DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.ToUpper(strings.TrimSpace(e)))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyChanges sends one alert per forwarded event of wallet.
func (n *Notifier) NotifyChanges(ctx context.Context, wallet string, events []domain.ChangeEvent) error {
	var errs []error
	for _, ev := range events {
		if !n.events[ev.Type] {
			continue
		}
		title, message := FormatEvent(wallet, ev)
		if err := n.dispatch(ctx, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dispatch sends to every sender. One failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("notify: %s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}
