package rbac

import "crm-telephony/internal/auth"

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin        = "admin"
	RoleSalesManager = "sales_manager"
	RoleAgent        = "agent"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func KnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleSalesManager, RoleAgent:
		return true
	}
	return false
}

// NumberScope returns the phone-number allow-list for id. Admins get nil
// (every number); everyone else gets their assigned numbers, never nil, so
// a caller with no numbers sees nothing.
func NumberScope(id auth.Identity) []string {
	if IsAdmin(id.Role) {
		return nil
	}
	if id.AssignedNumbers == nil {
		return []string{}
	}
	return id.AssignedNumbers
}
