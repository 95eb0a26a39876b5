package rbac

import "github.com/armada-fleet/armada/internal/auth"

// UserHasPermission reports whether the user holds the named permission.
// False for a nil user or an unloaded/empty permission set. Matching is an
// exact string comparison; no wildcard expansion happens here.
func UserHasPermission(user *auth.User, permission string) bool {
	if user == nil || len(user.Permissions) == 0 {
		return false
	}
	return containsPermission(user.Permissions, permission)
}

// CredentialsHavePermission evaluates a resolved identity, preferring the
// API-key-derived permission set when both identities are present.
func CredentialsHavePermission(creds *auth.Credentials, permission string) bool {
	if creds == nil {
		return false
	}
	if creds.APIKey != nil {
		return containsPermission(creds.APIKey.Permissions, permission)
	}
	return UserHasPermission(creds.User, permission)
}

func containsPermission(granted []string, permission string) bool {
	for _, p := range granted {
		if p == permission {
			return true
		}
	}
	return false
}
