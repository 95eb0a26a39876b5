package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/armada-fleet/armada/internal/apikeys"
	"github.com/armada-fleet/armada/internal/shared"
)

// Worker wraps the Asynq server processing identity bookkeeping tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts asynq.RedisClientOpt
	Pool      *pgxpool.Pool
	Logger    *slog.Logger
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) *Worker {
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})

	keyRepo := apikeys.NewRepository(cfg.Pool)
	auditLogger := shared.NewAuditLogger(cfg.Pool)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeKeyUsage, handleKeyUsage(keyRepo, cfg.Logger))
	mux.HandleFunc(TaskTypeAuditRecord, handleAuditRecord(auditLogger, cfg.Logger))

	return &Worker{server: srv, mux: mux, logger: cfg.Logger}
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func handleKeyUsage(repo apikeys.Repository, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload KeyUsagePayload
		if err := unmarshalPayload(t, &payload); err != nil {
			return err
		}
		if payload.Key == "" {
			return asynq.SkipRetry
		}
		seen := payload.SeenAt
		if seen.IsZero() {
			seen = time.Now().UTC()
		}
		if err := repo.TouchUsage(ctx, payload.Key, seen); err != nil {
			if logger != nil {
				logger.Error("track key usage", slog.Any("error", err))
			}
			return err
		}
		return nil
	}
}

func handleAuditRecord(auditLogger *shared.AuditLogger, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AuditPayload
		if err := unmarshalPayload(t, &payload); err != nil {
			return err
		}
		err := auditLogger.Record(ctx, shared.AuditLog{
			ActorID:  payload.ActorID,
			Action:   payload.Action,
			Entity:   payload.Entity,
			EntityID: payload.EntityID,
			ClientIP: payload.ClientIP,
			Meta:     payload.Meta,
			At:       payload.At,
		})
		if err != nil {
			if logger != nil {
				logger.Error("record audit entry", slog.Any("error", err))
			}
			return err
		}
		return nil
	}
}
