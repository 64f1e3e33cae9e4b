package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Handler processes one message. A returned error dead-letters the message.
type Handler func(ctx context.Context, msg Message) error

const headerError = "x-error"

// deadLetterTimeout bounds a dead-letter publish so a stuck dead-letter
// destination cannot stop consumption.
var deadLetterTimeout = 5 * time.Second

// Run fetches from c until ctx is done. Every message is committed exactly
// once, after it was either handled or copied to its dead-letter topic, so a
// failing message is never requeued.
func Run(ctx context.Context, c Consumer, dlq Publisher, handle Handler) error {
	for {
		msg, err := c.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}
		logger := log.Ctx(ctx).With().Str("topic", msg.Topic).Bytes("key", msg.Key).Logger()
		if herr := handle(logger.WithContext(ctx), msg); herr != nil {
			logger.Error().Err(herr).Msg("message handling failed, dead-lettering")
			dctx, cancel := context.WithTimeout(ctx, deadLetterTimeout)
			if derr := deadLetter(dctx, dlq, msg, herr); derr != nil {
				logger.Error().Err(derr).Msg("dead-letter publish failed, message dropped")
			}
			cancel()
		}
		if err := c.Commit(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit: %w", err)
		}
	}
}

func deadLetter(ctx context.Context, dlq Publisher, msg Message, cause error) error {
	if dlq == nil {
		return nil
	}
	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[headerError] = cause.Error()
	return dlq.Publish(ctx, Message{
		Topic:   DeadLetter(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
}
