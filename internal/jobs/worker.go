package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clipnote/clipnote-backend/internal/config"
	"github.com/clipnote/clipnote-backend/internal/logger"
)

// Worker pops video IDs from the redis queue and runs them through the
// pipeline. Run blocks until the context is cancelled.
type Worker struct {
	client     *redis.Client
	queue      string
	poll       time.Duration
	sweepEvery time.Duration
	runner     *Runner
	log        *logger.Logger
}

func NewWorker(cfg *config.Config, client *redis.Client, runner *Runner, baseLog *logger.Logger) *Worker {
	return &Worker{
		client:     client,
		queue:      cfg.Jobs.QueueName,
		poll:       cfg.Jobs.WorkerPoll,
		sweepEvery: cfg.Jobs.OverallTimeout,
		runner:     runner,
		log:        baseLog.With("component", "Worker"),
	}
}

func (w *Worker) Run(ctx context.Context) {
	w.log.Info("Worker started", "queue", w.queue)

	// Recover videos stranded by a previous worker crash, then keep
	// sweeping in the background.
	if err := w.runner.SweepStale(ctx); err != nil {
		w.log.Error("Stale sweep failed", "error", err)
	}
	go w.sweepLoop(ctx)

	for {
		if ctx.Err() != nil {
			w.log.Info("Worker stopping")
			return
		}

		res, err := w.client.BRPop(ctx, w.poll, w.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			w.log.Error("Queue pop failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.poll):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		videoID, err := uuid.Parse(res[1])
		if err != nil {
			w.log.Warn("Dropping malformed job payload", "payload", res[1])
			continue
		}

		w.handle(ctx, videoID)
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.runner.SweepStale(ctx); err != nil {
				w.log.Error("Stale sweep failed", "error", err)
			}
		}
	}
}

// handle isolates one job so a panic in the pipeline never kills the worker
// loop. The runner records the failure on the video row itself.
func (w *Worker) handle(ctx context.Context, videoID uuid.UUID) {
	defer func() {
		if rec := recover(); rec != nil {
			w.log.Error("Recovered from job panic", "video_id", videoID.String(), "panic", rec)
		}
	}()

	if err := w.runner.Process(ctx, videoID); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			return
		}
		w.log.Error("Job failed", "video_id", videoID.String(), "error", err)
	}
}
