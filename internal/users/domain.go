package users

// NewUser carries the attributes required to register a user account.
// Password may be empty: accounts provisioned for SSO or key-only access
// have no stored hash.
type NewUser struct {
	Username string
	Email    string
	Password string
}

// reservedUsernames can never be registered; they are claimed by the
// platform itself.
var reservedUsernames = map[string]struct{}{
	"root":          {},
	"admin":         {},
	"administrator": {},
	"armada":        {},
}
