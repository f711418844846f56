package auth

// Permissions required by the HTTP surface.
const (
	PermCreateUser          = "create_user"
	PermReadUser            = "read_user"
	PermUpdateUser          = "update_user"
	PermDeleteUser          = "delete_user"
	PermCreatePermission    = "create_permission"
	PermReadPermission      = "read_permission"
	PermDeletePermission    = "delete_permission"
	PermCreateGroup         = "create_group"
	PermReadGroup           = "read_group"
	PermDeleteGroup         = "delete_group"
	PermGrantPermission     = "grant_permission_to"
	PermRemovePermission    = "remove_permission_from"
	PermAddUserToGroup      = "add_user_to_group"
	PermRemoveUserFromGroup = "remove_user_from_group"
	PermDeleteSession       = "delete_session"
	PermLogout              = "logout"
	PermSetOwnPassword      = "set_own_password"
	PermSetOwnUsername      = "set_own_username"
	PermSetOwnEmail         = "set_own_email"
	PermReadOwnUserData     = "read_own_user_data"
)

// BuiltinPermissions is the seeded, undeletable permission catalog.
var BuiltinPermissions = []string{
	AdminPermission,
	PermCreateUser, PermReadUser, PermUpdateUser, PermDeleteUser,
	PermCreatePermission, PermReadPermission, PermDeletePermission,
	PermCreateGroup, PermReadGroup, PermDeleteGroup,
	PermGrantPermission, PermRemovePermission,
	PermAddUserToGroup, PermRemoveUserFromGroup,
	PermDeleteSession, PermLogout,
	PermSetOwnPassword, PermSetOwnUsername, PermSetOwnEmail, PermReadOwnUserData,
}

// DefaultGroupPermissions are the original grants of DefaultGroup.
var DefaultGroupPermissions = []string{
	PermLogout, PermSetOwnPassword, PermSetOwnEmail, PermSetOwnUsername, PermReadOwnUserData,
}
