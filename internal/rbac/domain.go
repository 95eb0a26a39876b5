package rbac

import "time"

// Role represents a named permission bundle. Roles are pre-seeded; this core
// resolves them but never creates them.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// Permission represents an atomic capability named by an exact string.
type Permission struct {
	ID          int64
	Name        string
	Description string
}
