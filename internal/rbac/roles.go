package rbac

import "callcenter/internal/auth"

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAgent       = "agent"
	RoleSupervisor  = "supervisor"
	RoleAdmin       = "admin"
	RoleSuperAdmin  = "super_admin"
	RoleIntegration = auth.ServiceRole // hidden role: dialer and engagement services
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleIntegration }

// CanActForAnyRep reports whether role may act on calls owned by other reps.
// Agents are limited to their own calls.
func CanActForAnyRep(role string) bool {
	switch role {
	case RoleSupervisor, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// ReceivesAdminFeed reports whether role subscribes to the admin live channel.
func ReceivesAdminFeed(role string) bool { return CanActForAnyRep(role) }

// CanAccessRep reports whether id may read or act on repID's calls, sessions and settings.
// Integrations act on behalf of any rep.
func CanAccessRep(id auth.Identity, repID string) bool {
	if id.UserID == repID {
		return true
	}
	return CanActForAnyRep(id.Role) || IsHiddenRole(id.Role)
}
