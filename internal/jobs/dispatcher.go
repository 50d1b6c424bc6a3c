package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clipnote/clipnote-backend/internal/config"
	"github.com/clipnote/clipnote-backend/internal/logger"
)

// RedisDispatcher pushes video IDs onto a redis list consumed by Worker.
// Multiple API replicas can share one queue; each job is popped exactly once.
type RedisDispatcher struct {
	client *redis.Client
	queue  string
	log    *logger.Logger
}

func NewRedisDispatcher(cfg *config.Config, client *redis.Client, baseLog *logger.Logger) *RedisDispatcher {
	return &RedisDispatcher{
		client: client,
		queue:  cfg.Jobs.QueueName,
		log:    baseLog.With("component", "RedisDispatcher"),
	}
}

func (d *RedisDispatcher) Enqueue(ctx context.Context, videoID uuid.UUID) error {
	if err := d.client.LPush(ctx, d.queue, videoID.String()).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", videoID, err)
	}
	d.log.Info("Job enqueued", "video_id", videoID.String(), "queue", d.queue)
	return nil
}

// InlineDispatcher runs jobs in a goroutine inside the API process. Used for
// single-node deployments and tests where no redis is available.
type InlineDispatcher struct {
	runner *Runner
	log    *logger.Logger
}

func NewInlineDispatcher(runner *Runner, baseLog *logger.Logger) *InlineDispatcher {
	return &InlineDispatcher{runner: runner, log: baseLog.With("component", "InlineDispatcher")}
}

func (d *InlineDispatcher) Enqueue(_ context.Context, videoID uuid.UUID) error {
	go func() {
		// Detached from the request context on purpose: the job outlives
		// the HTTP request that triggered it.
		if err := d.runner.Process(context.Background(), videoID); err != nil && err != ErrAlreadyClaimed {
			d.log.Error("Inline job failed", "video_id", videoID.String(), "error", err)
		}
	}()
	return nil
}
