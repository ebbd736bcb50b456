package security

import (
	"context"
	"fmt"
	"strings"
)

// Role is the caller's coarse-grained privilege level. Roles are totally
// ordered: Guest < User < Therapist < Admin. The order gates endpoints; it
// never grants access to another identity's data.
type Role int

const (
	RoleGuest Role = iota
	RoleUser
	RoleTherapist
	RoleAdmin
)

var roleNames = [...]string{
	RoleGuest:     "guest",
	RoleUser:      "user",
	RoleTherapist: "therapist",
	RoleAdmin:     "admin",
}

func (r Role) String() string {
	if r < RoleGuest || r > RoleAdmin {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// AtLeast reports whether r is the same as or above min in the role order.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// ParseRole parses the lower-case role name.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range roleNames {
		if n == name {
			return Role(i), nil
		}
	}
	return RoleGuest, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Identity is the verified caller of a request.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	// External is set for identities issued by the configured OIDC provider.
	External bool `json:"-"`
	// Name is the provider's display name claim, external identities only.
	Name string `json:"-"`
}

// Anonymous is the identity of callers without a valid credential.
var Anonymous = Identity{Role: RoleGuest}

// IsGuest reports whether the identity carries no authenticated user.
func (i Identity) IsGuest() bool {
	return i.ID == "" || i.Role == RoleGuest
}

type identityKey struct{}

// WithIdentity returns a context carrying the resolved identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by the auth middleware, or Anonymous.
func IdentityFromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok {
		return Anonymous
	}
	return id
}
