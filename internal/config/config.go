package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENV" default:"production"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	JWTSecret          string `envconfig:"JWT_SECRET" required:"true"`

	// Object storage (any S3-compatible endpoint)
	S3URL         string `envconfig:"S3_URL" required:"true"`
	S3Region      string `envconfig:"S3_REGION" default:"auto"`
	S3AccessKey   string `envconfig:"S3_ACCESS_KEY" required:"true"`
	S3SecretKey   string `envconfig:"S3_SECRET_KEY" required:"true"`
	UploadsBucket string `envconfig:"S3_UPLOADS_BUCKET" default:"zoxxo-uploads"`
	PublicBucket  string `envconfig:"S3_PUBLIC_BUCKET" default:"zoxxo-public"`
	PublicBaseURL string `envconfig:"S3_PUBLIC_BASE_URL" default:"https://storage.googleapis.com"`

	// URLs used in callbacks and e-mails
	BackendURL  string `envconfig:"BACKEND_URL" default:"http://localhost:8080"`
	FrontendURL string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`

	// Pub/Sub
	GCPProjectID                  string `envconfig:"GCP_PROJECT_ID" required:"true"`
	PubSubEmulatorHost            string `envconfig:"PUBSUB_EMULATOR_HOST"`
	PubSubArchiveTopic            string `envconfig:"PUBSUB_ARCHIVE_TOPIC" default:"archive-jobs"`
	PubSubNotificationTopic       string `envconfig:"PUBSUB_NOTIFICATION_TOPIC" default:"notifications"`
	PubSubPushAudience            string `envconfig:"PUBSUB_PUSH_AUDIENCE"`
	PubSubPushServiceAccountEmail string `envconfig:"PUBSUB_PUSH_SERVICE_ACCOUNT_EMAIL"`

	// Secrets
	SecretsFromGCP bool `envconfig:"SECRETS_FROM_GCP" default:"false"`

	// Stripe
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`

	// PayPal
	PayPalAPIBase      string `envconfig:"PAYPAL_API_BASE" default:"https://api-m.sandbox.paypal.com"`
	PayPalClientID     string `envconfig:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret string `envconfig:"PAYPAL_CLIENT_SECRET"`
	PayPalWebhookID    string `envconfig:"PAYPAL_WEBHOOK_ID"`
	PayPalProductID    string `envconfig:"PAYPAL_PRODUCT_ID"`

	// Expiration scheduler
	SweepSchedule      string        `envconfig:"SWEEP_SCHEDULE" default:"@every 1m"`
	SweepWorkers       int           `envconfig:"SWEEP_WORKERS" default:"8"`
	SweepBatchSize     int           `envconfig:"SWEEP_BATCH_SIZE" default:"500"`
	LapsedRetention    time.Duration `envconfig:"LAPSED_RETENTION" default:"720h"`
	OutboxWorkers      int           `envconfig:"OUTBOX_WORKERS" default:"4"`
	OutboxQueueSize    int           `envconfig:"OUTBOX_QUEUE_SIZE" default:"256"`
	SideEffectTimeout  time.Duration `envconfig:"SIDE_EFFECT_TIMEOUT" default:"30s"`
	UploadURLExpiresIn time.Duration `envconfig:"UPLOAD_URL_EXPIRES_IN" default:"2h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment reports whether the service runs against local emulators.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
