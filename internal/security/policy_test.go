package security

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	patient   = Identity{ID: "u1", Role: RoleUser}
	therapist = Identity{ID: "t1", Role: RoleTherapist}
	admin     = Identity{ID: "a1", Role: RoleAdmin}
)

func isAuthz(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

func isAuthn(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

func TestRoleOrder(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleTherapist))
	assert.True(t, RoleTherapist.AtLeast(RoleUser))
	assert.True(t, RoleUser.AtLeast(RoleGuest))
	assert.False(t, RoleUser.AtLeast(RoleTherapist))
	assert.False(t, RoleGuest.AtLeast(RoleUser))
}

func TestParseRole(t *testing.T) {
	for _, r := range []Role{RoleGuest, RoleUser, RoleTherapist, RoleAdmin} {
		parsed, err := ParseRole(r.String())
		require.NoError(t, err)
		require.Equal(t, r, parsed)
	}
	parsed, err := ParseRole(" Therapist ")
	require.NoError(t, err)
	require.Equal(t, RoleTherapist, parsed)

	_, err = ParseRole("superuser")
	require.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	require.NoError(t, RequireRole(therapist, RoleTherapist, RoleAdmin))
	require.NoError(t, RequireRole(admin, RoleTherapist, RoleAdmin))
	require.True(t, isAuthz(RequireRole(patient, RoleTherapist, RoleAdmin)))
	require.True(t, isAuthn(RequireRole(Anonymous, RoleUser)))
	require.NoError(t, RequireRole(Anonymous, RoleGuest))
}

func TestRequireAtLeast(t *testing.T) {
	require.NoError(t, RequireAtLeast(patient, RoleUser))
	require.NoError(t, RequireAtLeast(therapist, RoleTherapist))
	require.NoError(t, RequireAtLeast(admin, RoleTherapist))
	require.True(t, isAuthz(RequireAtLeast(patient, RoleTherapist)))
	require.True(t, isAuthz(RequireAtLeast(therapist, RoleAdmin)))
	require.True(t, isAuthn(RequireAtLeast(Anonymous, RoleUser)))
	// a role claim without a subject is still anonymous
	require.True(t, isAuthn(RequireAtLeast(Identity{Role: RoleAdmin}, RoleUser)))
}

func TestRequireOwnerOrRole(t *testing.T) {
	require.NoError(t, RequireOwnerOrRole(patient, "u1"))
	require.True(t, isAuthz(RequireOwnerOrRole(patient, "u2")))
	require.NoError(t, RequireOwnerOrRole(admin, "u2", RoleAdmin))

	// ownership-only: no role list means no override, even for Admin
	require.True(t, isAuthz(RequireOwnerOrRole(admin, "u2")))
	require.True(t, isAuthz(RequireOwnerOrRole(therapist, "u1")))

	require.True(t, isAuthn(RequireOwnerOrRole(Anonymous, "")))
	require.True(t, isAuthn(RequireOwnerOrRole(Anonymous, "u1", RoleGuest)))
}

func TestRequireParticipant(t *testing.T) {
	require.NoError(t, RequireParticipant(patient, "u1", "t1"))
	require.NoError(t, RequireParticipant(therapist, "u1", "t1"))

	require.True(t, isAuthz(RequireParticipant(admin, "u1", "t1")))
	require.True(t, isAuthz(RequireParticipant(Identity{ID: "u2", Role: RoleUser}, "u1", "t1")))
	require.True(t, isAuthn(RequireParticipant(Anonymous, "u1", "t1")))
	require.True(t, isAuthn(RequireParticipant(Identity{Role: RoleAdmin}, "", "t1")))
}
