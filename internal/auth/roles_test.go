package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planwright/planwright/internal/types"
)

func TestPermissionNesting(t *testing.T) {
	// operator ⊆ supervisor ⊆ admin
	for _, perm := range Permissions(types.RoleOperator) {
		assert.True(t, HasPermission(types.RoleSupervisor, perm),
			"supervisor missing operator permission %s", perm)
		assert.True(t, HasPermission(types.RoleAdmin, perm),
			"admin missing operator permission %s", perm)
	}
	for _, perm := range Permissions(types.RoleSupervisor) {
		assert.True(t, HasPermission(types.RoleAdmin, perm),
			"admin missing supervisor permission %s", perm)
	}
}

func TestRoleBoundaries(t *testing.T) {
	assert.True(t, HasPermission(types.RoleOperator, PermReviewApprove))
	assert.True(t, HasPermission(types.RoleOperator, PermRunKill))
	assert.False(t, HasPermission(types.RoleOperator, PermEscalationResolve))
	assert.False(t, HasPermission(types.RoleOperator, PermAuditVerify))

	assert.True(t, HasPermission(types.RoleSupervisor, PermEscalationResolve))
	assert.False(t, HasPermission(types.RoleSupervisor, PermUserManage))

	assert.True(t, HasPermission(types.RoleAdmin, PermUserManage))
	assert.False(t, HasPermission("intern", PermRunView))
}

func TestRequire(t *testing.T) {
	require.NoError(t, Require(types.RoleAdmin, PermAuditVerify))

	err := Require(types.RoleOperator, PermAuditVerify)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestTokenRoundTrip(t *testing.T) {
	secret := "test-secret"
	token, err := MintToken(secret, "op-7", types.RoleSupervisor, "acme", time.Hour)
	require.NoError(t, err)

	p, err := VerifyToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "op-7", p.UserID)
	assert.Equal(t, types.RoleSupervisor, p.Role)
	assert.Equal(t, "acme", p.TenantID)
	assert.True(t, p.Can(PermEscalationResolve))
	assert.False(t, p.Can(PermUserManage))
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	token, err := MintToken("secret-a", "op-1", types.RoleOperator, "", time.Hour)
	require.NoError(t, err)

	_, err = VerifyToken("secret-b", token)
	require.Error(t, err)
}

func TestTokenRejectsBadRole(t *testing.T) {
	_, err := MintToken("secret", "op-1", "superuser", "", time.Hour)
	require.Error(t, err)
}
