package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
)

// Publisher is the subset of the NATS client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher tells approvers that a request awaits them by
// publishing to NATS for the notifications service.
//
// Subject convention: <prefix>.approval_required
type NotificationPublisher struct {
	nats   Publisher
	prefix string
	now    func() time.Time
	log    *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string    `json:"event_type"`
	Recipients   []string  `json:"recipients"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Message      string    `json:"message"`
	IsActionable bool      `json:"is_actionable"`
	Severity     string    `json:"severity"`
	Category     string    `json:"category"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// EventApprovalRequired is published when a user joins a request's approvers.
const EventApprovalRequired = "approval_required"

// NewNotificationPublisher creates a publisher backed by the given NATS client.
func NewNotificationPublisher(nats Publisher, prefix string, log *logger.Logger) *NotificationPublisher {
	if prefix == "" {
		prefix = "notifications.approvals"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &NotificationPublisher{nats: nats, prefix: prefix, now: time.Now, log: log}
}

// Subject returns the subject an event type is published on.
func (p *NotificationPublisher) Subject(eventType string) string {
	return fmt.Sprintf("%s.%s", p.prefix, eventType)
}

// NotifyApprover publishes an approval_required event for one user.
func (p *NotificationPublisher) NotifyApprover(ctx context.Context, requestID, userID, message string) error {
	event := &NotificationEvent{
		EventType:    EventApprovalRequired,
		Recipients:   []string{userID},
		ResourceType: "approval_request",
		ResourceID:   requestID,
		Message:      message,
		IsActionable: true,
		Severity:     "info",
		Category:     "approval",
		OccurredAt:   p.now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal notification")
	}

	subject := p.Subject(EventApprovalRequired)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		return errors.Wrap(err, errors.ErrCodeUnavailable, "failed to publish notification")
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", requestID).
		Str("user_id", userID).
		Msg("notification: event published")
	return nil
}

// LogNotifier records notifications in the log. Used when NATS is not
// configured.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &LogNotifier{log: log}
}

// NotifyApprover logs the notification.
func (n *LogNotifier) NotifyApprover(_ context.Context, requestID, userID, message string) error {
	n.log.Info().
		Str("request_id", requestID).
		Str("user_id", userID).
		Str("message", message).
		Msg("Approver notification")
	return nil
}
