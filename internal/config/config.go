package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`

	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	// JWTSecret is the verification key material for end-user tokens. When
	// empty, JWTSecretName is resolved through Secret Manager instead.
	JWTSecret     string `envconfig:"JWT_SECRET"`
	JWTSecretName string `envconfig:"JWT_SECRET_NAME"`

	GCPProjectID       string `envconfig:"GCP_PROJECT_ID"`
	PubSubEmulatorHost string `envconfig:"PUBSUB_EMULATOR_HOST"`

	// Topic the gated send path publishes conversation-started events to.
	PubSubConversationStartedTopic string `envconfig:"PUBSUB_CONVERSATION_STARTED_TOPIC" default:"conversation-started"`

	// Push-subscription delivery settings for the events endpoint.
	PubSubPushServiceAccountEmail string `envconfig:"PUBSUB_PUSH_SERVICE_ACCOUNT_EMAIL"`
	EventsEndpointURL             string `envconfig:"EVENTS_ENDPOINT_URL"`

	// QuotaTimezone defines the calendar day the daily counters roll over on.
	QuotaTimezone string `envconfig:"QUOTA_TIMEZONE" default:"UTC"`

	// Counter retry worker settings
	CounterRetryQueueName           string `envconfig:"COUNTER_RETRY_QUEUE_NAME" default:"counter_retry_queue"`
	CounterRetryPollTimeoutSec      int    `envconfig:"COUNTER_RETRY_POLL_TIMEOUT_SEC" default:"30"`
	CounterRetryPollMaxMsg          int    `envconfig:"COUNTER_RETRY_POLL_MAX_MSG" default:"1"`
	CounterRetryMaxRetries          int    `envconfig:"COUNTER_RETRY_MAX_RETRIES" default:"5"`
	CounterRetryBackoffInitialSec   int    `envconfig:"COUNTER_RETRY_BACKOFF_INITIAL_SEC" default:"1"`
	CounterRetryBackoffMaxSec       int    `envconfig:"COUNTER_RETRY_BACKOFF_MAX_SEC" default:"60"`
	CounterRetryDeadLetterQueueName string `envconfig:"COUNTER_RETRY_DEAD_LETTER_QUEUE_NAME" default:"counter_retry_queue_dlq"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DSN builds the Postgres connection string from the discrete DB settings.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// QuotaLocation resolves the configured quota timezone.
func (c *Config) QuotaLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTA_TIMEZONE %q: %w", c.QuotaTimezone, err)
	}
	return loc, nil
}
