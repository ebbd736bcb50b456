package security

import "slices"

// RequireAuthenticated fails for the anonymous identity.
func RequireAuthenticated(id Identity) error {
	if id.IsGuest() {
		return &AuthenticationError{}
	}
	return nil
}

// RequireRole fails unless the identity's role is one of allowed.
func RequireRole(id Identity, allowed ...Role) error {
	if slices.Contains(allowed, id.Role) {
		return nil
	}
	if id.IsGuest() {
		return &AuthenticationError{}
	}
	return &AuthorizationError{Message: "insufficient role"}
}

// RequireAtLeast fails unless the identity is authenticated with min or a
// higher role.
func RequireAtLeast(id Identity, min Role) error {
	if id.IsGuest() {
		return &AuthenticationError{}
	}
	if !id.Role.AtLeast(min) {
		return &AuthorizationError{Message: "insufficient role"}
	}
	return nil
}

// RequireOwnerOrRole succeeds when the identity owns the resource or holds one
// of allowed. An empty allowed list makes the check ownership-only.
func RequireOwnerOrRole(id Identity, ownerID string, allowed ...Role) error {
	if err := RequireAuthenticated(id); err != nil {
		return err
	}
	if ownerID != "" && id.ID == ownerID {
		return nil
	}
	if slices.Contains(allowed, id.Role) {
		return nil
	}
	return &AuthorizationError{Message: "not the owner of this resource"}
}

// RequireParticipant succeeds only when the identity is one of participantIDs.
// No role bypasses it, Admin included.
func RequireParticipant(id Identity, participantIDs ...string) error {
	if err := RequireAuthenticated(id); err != nil {
		return err
	}
	if slices.Contains(participantIDs, id.ID) {
		return nil
	}
	return &AuthorizationError{Message: "not a participant of this conversation"}
}
