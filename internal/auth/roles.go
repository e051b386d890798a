// Package auth provides the static role/permission table and operator token
// handling for the governance surface. Permission sets are fixed per role and
// strictly nested: operator ⊂ supervisor ⊂ admin. Checks are never evaluated
// against per-user grants.
package auth

import (
	"fmt"

	"github.com/planwright/planwright/internal/types"
)

// Permission names one privileged action on the governance surface
type Permission string

const (
	PermRunCreate     Permission = "run.create"
	PermRunView       Permission = "run.view"
	PermRunKill       Permission = "run.kill"
	PermReviewApprove Permission = "review.approve"
	PermReviewReject  Permission = "review.reject"
	PermReviewRevise  Permission = "review.revise"
	PermEscalate      Permission = "review.escalate"
	PermUnknownFile   Permission = "unknown.file"
	PermUnknownWork   Permission = "unknown.resolve"

	// Supervisor and above
	PermEscalationResolve Permission = "escalation.resolve"
	PermRunPause          Permission = "run.pause"
	PermRunResume         Permission = "run.resume"
	PermScoreOverride     Permission = "score.override"

	// Admin only
	PermUserManage  Permission = "user.manage"
	PermAuditVerify Permission = "audit.verify"
)

var operatorPerms = []Permission{
	PermRunCreate,
	PermRunView,
	PermRunKill,
	PermReviewApprove,
	PermReviewReject,
	PermReviewRevise,
	PermEscalate,
	PermUnknownFile,
	PermUnknownWork,
}

var supervisorOnlyPerms = []Permission{
	PermEscalationResolve,
	PermRunPause,
	PermRunResume,
	PermScoreOverride,
}

var adminOnlyPerms = []Permission{
	PermUserManage,
	PermAuditVerify,
}

// rolePerms is the static permission table, built once so the nesting
// invariant holds by construction
var rolePerms = buildRolePerms()

func buildRolePerms() map[types.Role]map[Permission]bool {
	table := map[types.Role]map[Permission]bool{
		types.RoleOperator:   {},
		types.RoleSupervisor: {},
		types.RoleAdmin:      {},
	}
	for _, p := range operatorPerms {
		table[types.RoleOperator][p] = true
		table[types.RoleSupervisor][p] = true
		table[types.RoleAdmin][p] = true
	}
	for _, p := range supervisorOnlyPerms {
		table[types.RoleSupervisor][p] = true
		table[types.RoleAdmin][p] = true
	}
	for _, p := range adminOnlyPerms {
		table[types.RoleAdmin][p] = true
	}
	return table
}

// HasPermission reports whether the role's static set includes the permission
func HasPermission(role types.Role, perm Permission) bool {
	perms, ok := rolePerms[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// Permissions returns a copy of the role's static permission set
func Permissions(role types.Role) []Permission {
	perms := rolePerms[role]
	out := make([]Permission, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	return out
}

// Require returns an error if the role lacks the permission. The error is a
// validation failure and must never be retried automatically.
func Require(role types.Role, perm Permission) error {
	if !HasPermission(role, perm) {
		return fmt.Errorf("%w: role %s lacks %s", ErrPermissionDenied, role, perm)
	}
	return nil
}
