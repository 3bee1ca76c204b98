package service

import (
	"context"
	"fmt"
	"time"

	"fileshare/internal/pubsub"

	"github.com/rs/zerolog"
)

// Mail templates rendered by the notification worker.
const (
	TemplateNewUpload          = "new-upload"
	TemplatePublicUpload       = "public-upload"
	TemplateSubscriptionEnding = "subscription-downgrading"
	TemplatePaymentFailed      = "payment-failed"
)

// Notifier hands a message to the mail pipeline. Delivery is out of band;
// a nil error only means the message was accepted.
type Notifier interface {
	Send(ctx context.Context, template, recipient string, payload map[string]any) error
}

type notification struct {
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	Payload   map[string]any `json:"payload"`
	QueuedAt  time.Time      `json:"queuedAt"`
}

type notificationService struct {
	publisher pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

// NewNotificationService publishes notifications to a Pub/Sub topic.
func NewNotificationService(publisher pubsub.Publisher, topic string, logger zerolog.Logger) Notifier {
	return &notificationService{
		publisher: publisher,
		topic:     topic,
		logger:    logger.With().Str("service", "NotificationService").Logger(),
	}
}

func (s *notificationService) Send(ctx context.Context, template, recipient string, payload map[string]any) error {
	if recipient == "" {
		return fmt.Errorf("notification %s has no recipient", template)
	}
	id, err := pubsub.PublishJSON(ctx, s.publisher, s.topic, notification{
		Template:  template,
		Recipient: recipient,
		Payload:   payload,
		QueuedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("queue %s notification: %w", template, err)
	}
	s.logger.Debug().Str("template", template).Str("message_id", id).Msg("Notification queued")
	return nil
}
