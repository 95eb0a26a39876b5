package apikeys

import (
	"fmt"
	"time"

	"github.com/armada-fleet/armada/internal/shared"
)

// ActorType names the kind of principal an API key is issued for. The set is
// closed: adding a type means adding a registry entry, not a string branch.
type ActorType string

const (
	ActorUser        ActorType = "user"
	ActorApplication ActorType = "application"
	ActorDevice      ActorType = "device"
)

// actorBinding describes how to reach the actor record of a given entity kind.
type actorBinding struct {
	table string
}

var actorBindings = map[ActorType]actorBinding{
	ActorUser:        {table: "users"},
	ActorApplication: {table: "applications"},
	ActorDevice:      {table: "devices"},
}

func (t ActorType) binding() (actorBinding, error) {
	b, ok := actorBindings[t]
	if !ok {
		return actorBinding{}, fmt.Errorf("%w: unknown actor type %q", shared.ErrInvalidInput, string(t))
	}
	return b, nil
}

// APIKey represents an issued key. The key column stores the opaque secret;
// a key row is only ever observable together with its role binding.
type APIKey struct {
	ID          int64
	Key         string
	Name        string
	Description string
	ActorID     int64
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}

// CreateOptions customises key issuance.
type CreateOptions struct {
	// Key overrides the generated opaque key string.
	Key string
	// Name and Description annotate the key for operators.
	Name        string
	Description string
	// Tx reuses the caller's transaction; rollback on propagated failure is
	// then the caller's responsibility.
	Tx Repository
}
