package notify

import (
	"context"

	"go.uber.org/zap"

	"clubattend/internal/queue"
)

// Consume sends every queued job until ctx is done or the queue closes.
// Failed sends are logged and dropped; operators resend them by session.
func Consume(ctx context.Context, q queue.Queue, d *Dispatcher, log *zap.Logger) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != MessageType {
			continue
		}
		j, err := DecodeJob(msg)
		if err != nil {
			log.Warn("drop undecodable notification", zap.Error(err))
			continue
		}
		if err := d.Notify(ctx, j); err != nil {
			continue
		}
		log.Debug("notification sent", zap.String("recipient", j.RecipientName), zap.String("kind", string(j.Kind)))
	}
	return ctx.Err()
}
