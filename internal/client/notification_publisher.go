package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mobilytix/be-templates-approvals/internal/natsclient"
)

// Notification event types consumed by the notifications service.
const (
	NotificationSendForReview   = "SEND_FOR_REVIEW"
	NotificationSendForApproval = "SEND_FOR_APPROVAL"
	NotificationReviewed        = "REVIEWED"
	NotificationAccepted        = "ACCEPTED"
	NotificationRejected        = "REJECTED"
	NotificationEscalation      = "ESCALATION"
)

// publishTimeout bounds a single publish so a slow broker never holds up a
// workflow response or the escalation sweep.
const publishTimeout = 5 * time.Second

// Notification is one workflow event addressed to a single user.
type Notification struct {
	Type       string `json:"type"`
	TemplateID string `json:"templateId"`
	SendTo     string `json:"sendTo"`
	FromUser   string `json:"fromUser,omitempty"`
}

// NotificationPublisher publishes approval workflow events to NATS JetStream
// for consumption by the notifications service.
//
// Subject convention: notifications.templates.<event_type>
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never interrupt
// workflow operations.
type NotificationPublisher struct {
	nats *natsclient.Client
	log  zerolog.Logger
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// client. A nil client disables publishing (events are dropped silently).
func NewNotificationPublisher(nats *natsclient.Client, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// Notify publishes one workflow event. Fire-and-forget: delivery failures
// and timeouts are logged and swallowed.
func (p *NotificationPublisher) Notify(ctx context.Context, n *Notification) {
	if p.nats == nil {
		return
	}
	if n.SendTo == "" {
		return
	}

	data, err := json.Marshal(n)
	if err != nil {
		p.log.Warn().Err(err).Str("type", n.Type).Msg("notification: failed to marshal event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	subject := fmt.Sprintf("notifications.templates.%s", strings.ToLower(n.Type))
	if err := p.nats.Publish(pubCtx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("template_id", n.TemplateID).
			Msg("notification: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("template_id", n.TemplateID).
		Str("send_to", n.SendTo).
		Msg("notification: event published")
}
