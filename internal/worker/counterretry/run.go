package counterretry

import (
	"context"
	"encoding/json"
	"time"

	"amora/internal/config"
	"amora/internal/model"
	"amora/internal/pgmq"
	"amora/internal/service"

	"github.com/rs/zerolog"
)

// Run starts the counter retry worker. It drains conversation-started events
// whose increment failed on the push endpoint, retries each with exponential
// backoff, and parks exhausted events on the dead-letter queue. Accounting
// stays best-effort: nothing here ever blocks message delivery.
func Run(ctx context.Context, logger zerolog.Logger, cfg *config.Config, client *pgmq.Client, reputationSvc service.ReputationService) error {
	queue := cfg.CounterRetryQueueName
	dlq := cfg.CounterRetryDeadLetterQueueName
	logger.Info().Str("queue", queue).Msg("Starting counter retry worker")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down counter retry worker")
			return nil
		default:
		}

		msgs, err := client.ReadWithPoll(ctx, queue, cfg.CounterRetryPollTimeoutSec, cfg.CounterRetryPollMaxMsg)
		if err != nil {
			logger.Error().Err(err).Msg("Error reading counter retry queue")
			time.Sleep(time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		msg := msgs[0]

		var ev model.ConversationStartedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Error().Err(err).Int64("msg_id", msg.ID).Msg("Failed to unmarshal retry payload; deleting message")
			client.Delete(ctx, queue, []int64{msg.ID})
			continue
		}

		backoff := time.Duration(cfg.CounterRetryBackoffInitialSec) * time.Second
		var applyErr error
		for attempt := 1; attempt <= cfg.CounterRetryMaxRetries; attempt++ {
			applyErr = reputationSvc.ApplyConversationStarted(ctx, ev)
			if applyErr == nil {
				break
			}
			logger.Error().Err(applyErr).
				Int("attempt", attempt).
				Str("conversation_id", ev.ConversationID).
				Msg("Counter increment retry failed")
			time.Sleep(backoff)
			backoff *= 2
			if backoff > time.Duration(cfg.CounterRetryBackoffMaxSec)*time.Second {
				backoff = time.Duration(cfg.CounterRetryBackoffMaxSec) * time.Second
			}
		}

		if applyErr != nil {
			if err := client.Send(ctx, dlq, msg.Data); err != nil {
				logger.Error().Err(err).Str("dlq", dlq).Msg("Failed to send event to dead-letter queue")
			}
			logger.Warn().
				Int("attempts", cfg.CounterRetryMaxRetries).
				Str("conversation_id", ev.ConversationID).
				Err(applyErr).
				Msg("Exhausted counter increment retries; moving event to DLQ")
		} else {
			logger.Info().
				Str("conversation_id", ev.ConversationID).
				Str("sender_id", ev.SenderID).
				Msg("Counter increment applied on retry")
		}

		if err := client.Delete(ctx, queue, []int64{msg.ID}); err != nil {
			logger.Error().Err(err).Int64("msg_id", msg.ID).Msg("Error deleting retry message")
		}
	}
}
