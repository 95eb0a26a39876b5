package shared

// Core platform permissions. Permission names are static input data seeded
// into the permissions table; services compare against these constants only.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermDevicesView   = "devices.view"
	PermDevicesEnroll = "devices.enroll"

	PermApplicationsView = "applications.view"
	PermApplicationsEdit = "applications.edit"

	PermKeysIssue  = "keys.issue"
	PermKeysRevoke = "keys.revoke"
)

// CoreScopes lists all permissions owned by the identity core.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermDevicesView,
		PermDevicesEnroll,
		PermApplicationsView,
		PermApplicationsEdit,
		PermKeysIssue,
		PermKeysRevoke,
	}
}
