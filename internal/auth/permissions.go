package auth

// Permission constants for authorization checks
// These constants define the built-in permission catalog referenced by route
// policies and by direct grants to users and teams.

const (
	// PermSystemConfiguration allows remote management of the server
	// configuration, caches, and usage data
	PermSystemConfiguration = "SYSTEM_CONFIGURATION"

	// PermAccessManagement allows management of users, their suspension
	// state, and their permissions
	PermAccessManagement = "ACCESS_MANAGEMENT"

	// PermTeamManagement allows management of teams, team permissions, and
	// mapped groups
	PermTeamManagement = "TEAM_MANAGEMENT"

	// PermAPIKeyManagement allows creation, rotation, and revocation of API
	// keys
	PermAPIKeyManagement = "APIKEY_MANAGEMENT"

	// PermPermissionRead allows read access to the permission catalog
	PermPermissionRead = "PERMISSION_READ"
)

// PermAny marks a route policy that is satisfied by any authenticated
// principal regardless of granted permissions.
const PermAny = "*"

// PermSeparator joins the members of a route policy OR set. It is also used
// to join a principal's effective permissions into a single request value, so
// it must never appear inside a permission name.
const PermSeparator = "|"

// BuiltinPermissions returns the names of the built-in permission catalog.
func BuiltinPermissions() []string {
	return []string{
		PermSystemConfiguration,
		PermAccessManagement,
		PermTeamManagement,
		PermAPIKeyManagement,
		PermPermissionRead,
	}
}

// ValidatePermissionName checks if a permission name is part of the built-in
// catalog. This prevents typos when granting permissions from the CLI.
func ValidatePermissionName(name string) bool {
	for _, p := range BuiltinPermissions() {
		if p == name {
			return true
		}
	}
	return false
}
