package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"netpilot/internal/ai"
	"netpilot/internal/metrics"
	"netpilot/internal/queue"
	"netpilot/internal/storage"
)

// Worker consumes configuration-generation jobs from the redis stream and
// settles the matching operations row when a job succeeds or exhausts its
// retries.
type Worker struct {
	ai            *ai.Service
	store         *storage.Store
	queue         *queue.StreamQueue
	maxJobRetries int
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

type Config struct {
	AI            *ai.Service
	Store         *storage.Store
	Queue         *queue.StreamQueue
	MaxJobRetries int
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	return &Worker{
		ai:            cfg.AI,
		store:         cfg.Store,
		queue:         cfg.Queue,
		maxJobRetries: cfg.MaxJobRetries,
		logger:        cfg.Logger,
		metrics:       m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			time.Sleep(1 * time.Second)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		for _, msg := range messages {
			err := w.processJob(ctx, msg.Job)
			if err == nil {
				w.metrics.ProcessedJobs.Inc()
				if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack message")
				}
				continue
			}

			w.metrics.FailedJobs.Inc()
			log.Error().Err(err).Str("job_id", msg.Job.JobID).Int("attempt", msg.Job.Attempts).Msg("job failed")

			if msg.Job.Attempts < w.maxJobRetries {
				msg.Job.Attempts++
				if _, enqueueErr := w.queue.Enqueue(ctx, msg.Job); enqueueErr != nil {
					log.Error().Err(enqueueErr).Str("job_id", msg.Job.JobID).Msg("failed to re-enqueue failed job")
					continue
				}
				if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack after re-enqueue")
				}
				continue
			}

			w.failOperation(ctx, msg.Job, err)
			if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
				log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack terminal failed message")
			}
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job queue.ConfigJob) error {
	started := time.Now()

	if err := w.store.FinishOperation(ctx, job.OperationID, storage.OperationRunning, "", "", 0); err != nil {
		w.logger.Warn().Err(err).Str("operation_id", job.OperationID).Msg("failed to mark operation running")
	}

	params := map[string]any{}
	if job.ParamsJSON != "" {
		if err := json.Unmarshal([]byte(job.ParamsJSON), &params); err != nil {
			return fmt.Errorf("parse job params: %w", err)
		}
	}

	res, err := w.ai.GenerateConfig(ctx, job.UserID, job.ConfigType, params, job.DeviceID)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}

	duration := time.Since(started).Milliseconds()
	if err := w.store.FinishOperation(ctx, job.OperationID, storage.OperationSuccess, res.Configuration, "", duration); err != nil {
		return fmt.Errorf("finish operation: %w", err)
	}
	return nil
}

// failOperation records a terminal failure so the job result endpoint can
// report it. Uses a fresh context in case the worker is shutting down.
func (w *Worker) failOperation(ctx context.Context, job queue.ConfigJob, cause error) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	duration := time.Since(job.EnqueuedAt).Milliseconds()
	if err := w.store.FinishOperation(ctx, job.OperationID, storage.OperationFailed, "", cause.Error(), duration); err != nil {
		w.logger.Error().Err(err).Str("operation_id", job.OperationID).Msg("failed to record terminal job failure")
	}
}
