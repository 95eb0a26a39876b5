package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/armada-fleet/armada/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeKeyUsage records when an API key was last presented.
	TaskTypeKeyUsage = "apikey:track_usage"
	// TaskTypeAuditRecord persists an audit trail entry.
	TaskTypeAuditRecord = "audit:record"
)

// KeyUsagePayload describes a key sighting.
type KeyUsagePayload struct {
	Key    string    `json:"key"`
	SeenAt time.Time `json:"seen_at"`
}

// NewKeyUsageTask constructs an Asynq task for a key sighting.
func NewKeyUsageTask(payload KeyUsagePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeKeyUsage, data), nil
}

// AuditPayload mirrors shared.AuditLog for queue transport.
type AuditPayload struct {
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	ClientIP string         `json:"client_ip,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// NewAuditTask constructs an Asynq task for an audit entry.
func NewAuditTask(log shared.AuditLog) (*asynq.Task, error) {
	at := log.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	data, err := json.Marshal(AuditPayload{
		ActorID:  log.ActorID,
		Action:   log.Action,
		Entity:   log.Entity,
		EntityID: log.EntityID,
		ClientIP: log.ClientIP,
		Meta:     log.Meta,
		At:       at,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditRecord, data), nil
}
