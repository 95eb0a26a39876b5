package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/armada-fleet/armada/internal/shared"
)

// Client submits identity bookkeeping jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueKeyUsage records an API key sighting out of band.
func (c *Client) EnqueueKeyUsage(ctx context.Context, payload KeyUsagePayload) error {
	task, err := NewKeyUsageTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// EnqueueAudit submits an audit entry for asynchronous persistence.
func (c *Client) EnqueueAudit(ctx context.Context, log shared.AuditLog) error {
	task, err := NewAuditTask(log)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

func unmarshalPayload(t *asynq.Task, target any) error {
	if err := json.Unmarshal(t.Payload(), target); err != nil {
		return fmt.Errorf("jobs: decode %s payload: %w", t.Type(), asynq.SkipRetry)
	}
	return nil
}
