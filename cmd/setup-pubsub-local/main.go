// Command setup-pubsub-local creates the archive and notification topics on
// the Pub/Sub emulator, each with a dead-letter topic.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"fileshare/internal/config"
	"fileshare/internal/logger"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// For local development, 'host.docker.internal' lets containers reach the host machine.
const (
	archiveWorkerURLLocal = "http://host.docker.internal:8000/archive"
	mailerURLLocal        = "http://host.docker.internal:8001/notify"
)

type topicSpec struct {
	topic    string
	endpoint string
}

func main() {
	reset := flag.Bool("reset", false, "delete every topic and subscription first")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, relying on system environment variables.")
	}
	logger := logger.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Failed to load config: %v", err)
	}
	if cfg.PubSubEmulatorHost == "" {
		logger.Fatal().Msg("PUBSUB_EMULATOR_HOST must be set for local environment.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID,
		option.WithEndpoint(cfg.PubSubEmulatorHost),
		option.WithoutAuthentication(),
	)
	if err != nil {
		logger.Fatal().Msgf("Failed to create Pub/Sub client: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close pubsub client")
		}
	}()

	if *reset {
		if err := resetEmulator(ctx, client, logger); err != nil {
			logger.Fatal().Err(err).Msg("Failed to reset emulator")
		}
	}

	specs := []topicSpec{
		{topic: cfg.PubSubArchiveTopic, endpoint: archiveWorkerURLLocal},
		{topic: cfg.PubSubNotificationTopic, endpoint: mailerURLLocal},
	}
	for _, spec := range specs {
		if err := ensure(ctx, client, spec, logger); err != nil {
			logger.Fatal().Err(err).Str("topic", spec.topic).Msg("Failed to set up topic")
		}
	}
	logger.Info().Msg("Pub/Sub setup for local environment complete.")
}

// resetEmulator deletes all subscriptions, then all topics. Only meant for
// the emulator.
func resetEmulator(ctx context.Context, client *pubsub.Client, logger zerolog.Logger) error {
	subs := client.Subscriptions(ctx)
	for {
		sub, err := subs.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}
		if err := sub.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("subscription", sub.ID()).Msg("Failed to delete subscription")
		}
	}
	topics := client.Topics(ctx)
	for {
		topic, err := topics.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list topics: %w", err)
		}
		if err := topic.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("topic", topic.ID()).Msg("Failed to delete topic")
		}
	}
	return nil
}

// ensure creates {topic}, {topic}-dlq, a push subscription {topic}-sub
// dead-lettering after five attempts and a pull subscription on the
// dead-letter topic.
func ensure(ctx context.Context, client *pubsub.Client, spec topicSpec, logger zerolog.Logger) error {
	retention := 7 * 24 * time.Hour
	dlq, err := ensureTopic(ctx, client, spec.topic+"-dlq", retention)
	if err != nil {
		return err
	}
	primary, err := ensureTopic(ctx, client, spec.topic, retention)
	if err != nil {
		return err
	}

	retry := &pubsub.RetryPolicy{MinimumBackoff: 10 * time.Second, MaximumBackoff: 600 * time.Second}
	if err := ensureSubscription(ctx, client, spec.topic+"-sub", pubsub.SubscriptionConfig{
		Topic:       primary,
		PushConfig:  pubsub.PushConfig{Endpoint: spec.endpoint},
		AckDeadline: 180 * time.Second,
		RetryPolicy: retry,
		DeadLetterPolicy: &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     dlq.String(),
			MaxDeliveryAttempts: 5,
		},
	}); err != nil {
		return err
	}
	if err := ensureSubscription(ctx, client, spec.topic+"-dlq-sub", pubsub.SubscriptionConfig{
		Topic:       dlq,
		AckDeadline: 60 * time.Second,
	}); err != nil {
		return err
	}
	logger.Info().Str("topic", spec.topic).Str("endpoint", spec.endpoint).Msg("Topic ready")
	return nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, id string, retention time.Duration) (*pubsub.Topic, error) {
	topic := client.Topic(id)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", id, err)
	}
	if exists {
		return topic, nil
	}
	created, err := client.CreateTopicWithConfig(ctx, id, &pubsub.TopicConfig{RetentionDuration: retention})
	if err != nil {
		return nil, fmt.Errorf("create topic %s: %w", id, err)
	}
	return created, nil
}

// ensureSubscription creates the subscription or moves an existing one to
// the wanted push endpoint.
func ensureSubscription(ctx context.Context, client *pubsub.Client, id string, want pubsub.SubscriptionConfig) error {
	sub := client.Subscription(id)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription %s: %w", id, err)
	}
	if !exists {
		if _, err := client.CreateSubscription(ctx, id, want); err != nil {
			return fmt.Errorf("create subscription %s: %w", id, err)
		}
		return nil
	}

	current, err := sub.Config(ctx)
	if err != nil {
		return fmt.Errorf("read subscription %s: %w", id, err)
	}
	if current.PushConfig.Endpoint == want.PushConfig.Endpoint && current.AckDeadline == want.AckDeadline {
		return nil
	}
	_, err = sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{
		PushConfig:  &want.PushConfig,
		AckDeadline: want.AckDeadline,
		RetryPolicy: want.RetryPolicy,
	})
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", id, err)
	}
	return nil
}
