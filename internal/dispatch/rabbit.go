package dispatch

import (
	"context"
	"log/slog"
)

// Publisher publishes a message body to the job queue.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// RabbitDispatcher publishes job ids for the worker service.
type RabbitDispatcher struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewRabbitDispatcher creates a dispatcher over publisher.
func NewRabbitDispatcher(publisher Publisher, logger *slog.Logger) *RabbitDispatcher {
	return &RabbitDispatcher{
		publisher: publisher,
		logger:    logger,
	}
}

// Dispatch publishes jobID. The message is persistent so a broker restart
// does not lose it.
func (d *RabbitDispatcher) Dispatch(ctx context.Context, jobID string) error {
	body, err := Encode(jobID)
	if err != nil {
		return err
	}

	if err := d.publisher.PublishWithRetry(ctx, body, ContentType); err != nil {
		return err
	}

	d.logger.Debug("Job published",
		slog.String("job_id", jobID),
	)
	return nil
}
