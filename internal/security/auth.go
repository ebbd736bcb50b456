package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/carevault/internal/config"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKeyIdentity is the gin context key for the resolved Identity.
const ContextKeyIdentity = "identity"

// TokenResolver verifies bearer tokens and resolves them to an Identity. Local
// HS256 tokens are tried first; tokens from the configured OIDC provider second.
type TokenResolver struct {
	secret            []byte
	issuer            string
	verifier          *oidc.IDTokenVerifier
	therapistOIDCRole string
	adminOIDCRole     string
}

// NewTokenResolver creates a TokenResolver from the application config. It performs
// one-time OIDC provider discovery if OIDCIssuer is configured.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	r := &TokenResolver{
		secret:            []byte(cfg.TokenSecret),
		issuer:            cfg.TokenIssuer,
		therapistOIDCRole: strings.TrimSpace(cfg.TherapistOIDCRole),
		adminOIDCRole:     strings.TrimSpace(cfg.AdminOIDCRole),
	}
	if cfg.OIDCIssuer != "" {
		r.verifier = newOIDCVerifier(cfg)
	}
	return r
}

func newOIDCVerifier(cfg *config.Config) *oidc.IDTokenVerifier {
	ctx := context.Background()
	expectedIssuer := cfg.OIDCIssuer
	discoveryURL := cfg.OIDCIssuer
	if cfg.OIDCDiscoveryURL != "" && cfg.OIDCDiscoveryURL != cfg.OIDCIssuer {
		// NewProvider fetches from its issuer arg, so pass the discovery URL there
		// and tell it to accept the mismatched issuer in the discovery document.
		ctx = oidc.InsecureIssuerURLContext(ctx, cfg.OIDCIssuer)
		discoveryURL = cfg.OIDCDiscoveryURL
	}
	provider, err := oidc.NewProvider(ctx, discoveryURL)
	if err != nil {
		log.Error("Failed to initialize OIDC provider; only local tokens will be accepted", "issuer", discoveryURL, "err", err)
		return nil
	}
	oidcCfg := &oidc.Config{ClientID: cfg.OIDCClientID, SkipClientIDCheck: cfg.OIDCClientID == ""}
	if expectedIssuer != discoveryURL {
		var providerClaims struct {
			JWKSURI string `json:"jwks_uri"`
		}
		if err := provider.Claims(&providerClaims); err == nil && providerClaims.JWKSURI != "" {
			log.Info("OIDC auth enabled", "issuer", expectedIssuer, "discovery", discoveryURL)
			return oidc.NewVerifier(expectedIssuer, oidc.NewRemoteKeySet(ctx, providerClaims.JWKSURI), oidcCfg)
		}
	}
	log.Info("OIDC auth enabled", "issuer", expectedIssuer)
	return provider.Verifier(oidcCfg)
}

var (
	errInvalidToken    = errors.New("invalid token")
	errMissingIdentity = errors.New("token missing identity claims")
)

// Resolve turns a raw bearer token (without the "Bearer " prefix) into an
// Identity. Every failure resolves to Anonymous.
func (r *TokenResolver) Resolve(ctx context.Context, bearerToken string) Identity {
	id, err := r.verify(ctx, bearerToken)
	if err != nil {
		log.Debug("Bearer token rejected", "err", err)
		return Anonymous
	}
	return id
}

func (r *TokenResolver) verify(ctx context.Context, bearerToken string) (Identity, error) {
	token := strings.TrimSpace(bearerToken)
	if token == "" {
		return Anonymous, errors.New("no token")
	}
	id, localErr := r.verifyLocal(token)
	if localErr == nil {
		return id, nil
	}
	if r.verifier == nil {
		return Anonymous, localErr
	}
	id, oidcErr := r.verifyOIDC(ctx, token)
	if oidcErr != nil {
		return Anonymous, errors.Join(localErr, oidcErr)
	}
	return id, nil
}

func (r *TokenResolver) verifyLocal(token string) (Identity, error) {
	if len(r.secret) == 0 {
		return Anonymous, errors.New("local tokens disabled")
	}
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Anonymous, fmt.Errorf("%w: expired", errInvalidToken)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Anonymous, fmt.Errorf("%w: bad signature", errInvalidToken)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Anonymous, fmt.Errorf("%w: malformed", errInvalidToken)
		default:
			return Anonymous, errors.Join(errInvalidToken, err)
		}
	}
	if !parsed.Valid || claims.Subject == "" {
		return Anonymous, errMissingIdentity
	}
	role, err := ParseRole(claims.Role)
	if err != nil || role == RoleGuest {
		return Anonymous, fmt.Errorf("%w: role %q", errInvalidToken, claims.Role)
	}
	return Identity{ID: claims.Subject, Role: role}, nil
}

func (r *TokenResolver) verifyOIDC(ctx context.Context, token string) (Identity, error) {
	idToken, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return Anonymous, errors.Join(errInvalidToken, err)
	}
	var rawClaims map[string]any
	if err := idToken.Claims(&rawClaims); err != nil {
		return Anonymous, errors.Join(errInvalidToken, err)
	}
	if idToken.Subject == "" {
		return Anonymous, errMissingIdentity
	}
	role := RoleUser
	tokenRoles := extractTokenRoles(rawClaims)
	switch {
	case r.adminOIDCRole != "" && tokenRoles[r.adminOIDCRole]:
		role = RoleAdmin
	case r.therapistOIDCRole != "" && tokenRoles[r.therapistOIDCRole]:
		role = RoleTherapist
	}
	name, _ := rawClaims["name"].(string)
	if name == "" {
		name, _ = rawClaims["preferred_username"].(string)
	}
	return Identity{ID: idToken.Subject, Role: role, External: true, Name: name}, nil
}

// --- Gin HTTP middleware ---

// GetIdentity returns the identity resolved for this request, or Anonymous.
func GetIdentity(c *gin.Context) Identity {
	v, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return Anonymous
	}
	id, ok := v.(Identity)
	if !ok {
		return Anonymous
	}
	return id
}

// IdentityMiddleware resolves the Authorization header on every request. It
// never aborts; anonymous callers continue as Guest.
func IdentityMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := Anonymous
		auth := c.GetHeader("Authorization")
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			id = resolver.Resolve(c.Request.Context(), token)
		} else if auth != "" {
			log.Debug("Ignoring non-bearer Authorization header", "path", c.Request.URL.Path)
		}
		c.Set(ContextKeyIdentity, id)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// AuthRequired rejects anonymous callers with 401.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetIdentity(c).IsGuest() {
			log.Info("Auth rejected: no valid bearer token", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": "authentication required"})
			return
		}
		c.Next()
	}
}

// RolesRequired rejects callers whose role is not one of allowed.
func RolesRequired(allowed ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := RequireRole(GetIdentity(c), allowed...)
		var authn *AuthenticationError
		switch {
		case err == nil:
			c.Next()
		case errors.As(err, &authn):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": err.Error()})
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
		}
	}
}

// --- helpers ---

func extractTokenRoles(claims map[string]any) map[string]bool {
	result := map[string]bool{}
	addList := func(values []string) {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			result[v] = true
		}
	}

	addList(toStringSlice(claims["roles"]))
	addList(toStringSlice(claims["groups"]))

	// Keycloak-style realm_access.roles.
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		addList(toStringSlice(realm["roles"]))
	}

	return result
}

func toStringSlice(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		var out []string
		if data, err := json.Marshal(v); err == nil {
			_ = json.Unmarshal(data, &out)
		}
		return out
	}
}
