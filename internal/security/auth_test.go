package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chirino/carevault/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = strings.Repeat("k", 32)

func newTestResolver() *TokenResolver {
	cfg := config.DefaultConfig()
	cfg.TokenSecret = testSecret
	return NewTokenResolver(&cfg)
}

func signClaims(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(role string, expiresIn time.Duration) Claims {
	now := time.Now()
	return Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "carevault",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
}

func TestResolve_ValidToken(t *testing.T) {
	r := newTestResolver()
	issuer := NewTokenIssuer([]byte(testSecret), "carevault", time.Hour)
	token, expiresAt, err := issuer.Issue(Identity{ID: "user-1", Role: RoleTherapist})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	id := r.Resolve(context.Background(), token)
	require.Equal(t, Identity{ID: "user-1", Role: RoleTherapist}, id)
}

func TestResolve_FailuresBecomeGuest(t *testing.T) {
	r := newTestResolver()
	cases := map[string]string{
		"empty":         "",
		"garbage":       "not-a-jwt",
		"expired":       signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("user", -time.Minute)),
		"bad signature": signClaims(t, jwt.SigningMethodHS256, []byte(strings.Repeat("x", 32)), validClaims("user", time.Hour)),
		"wrong issuer": func() string {
			c := validClaims("user", time.Hour)
			c.Issuer = "someone-else"
			return signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), c)
		}(),
		"no expiry": func() string {
			c := validClaims("user", time.Hour)
			c.ExpiresAt = nil
			return signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), c)
		}(),
		"no subject": func() string {
			c := validClaims("user", time.Hour)
			c.Subject = ""
			return signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), c)
		}(),
		"unknown role": signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("root", time.Hour)),
		"guest role":   signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("guest", time.Hour)),
		"alg none":     signClaims(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims("admin", time.Hour)),
		"hs512": signClaims(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims("admin", time.Hour)),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, Anonymous, r.Resolve(context.Background(), token))
		})
	}
}

func TestIssue_RefusesAnonymous(t *testing.T) {
	issuer := NewTokenIssuer([]byte(testSecret), "carevault", time.Hour)
	_, _, err := issuer.Issue(Anonymous)
	require.Error(t, err)
}

func newAuthRouter(t *testing.T, r *TokenResolver, extra ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(IdentityMiddleware(r))
	handlers := append(extra, func(c *gin.Context) {
		id := GetIdentity(c)
		require.Equal(t, id, IdentityFromContext(c.Request.Context()))
		c.JSON(http.StatusOK, id)
	})
	router.GET("/who", handlers...)
	return router
}

func TestIdentityMiddleware_NeverTrustsHeaders(t *testing.T) {
	router := newAuthRouter(t, newTestResolver())
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("X-User-ID", "admin-1")
	req.Header.Set("X-Role", "admin")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"id":"","role":"guest"}`, w.Body.String())
}

func TestAuthRequired(t *testing.T) {
	r := newTestResolver()
	router := newAuthRouter(t, r, AuthRequired())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	token, _, err := NewTokenIssuer([]byte(testSecret), "carevault", time.Hour).Issue(Identity{ID: "u1", Role: RoleUser})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"id":"u1","role":"user"}`, w.Body.String())
}

func TestRolesRequired(t *testing.T) {
	r := newTestResolver()
	router := newAuthRouter(t, r, RolesRequired(RoleTherapist, RoleAdmin))
	issuer := NewTokenIssuer([]byte(testSecret), "carevault", time.Hour)

	do := func(id *Identity) int {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		if id != nil {
			token, _, err := issuer.Issue(*id)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusUnauthorized, do(nil))
	require.Equal(t, http.StatusForbidden, do(&Identity{ID: "u1", Role: RoleUser}))
	require.Equal(t, http.StatusOK, do(&Identity{ID: "t1", Role: RoleTherapist}))
	require.Equal(t, http.StatusOK, do(&Identity{ID: "a1", Role: RoleAdmin}))
}

func TestExtractTokenRoles(t *testing.T) {
	roles := extractTokenRoles(map[string]any{
		"roles":        []any{"therapist"},
		"realm_access": map[string]any{"roles": []any{"admin", " "}},
	})
	require.True(t, roles["therapist"])
	require.True(t, roles["admin"])
	require.Len(t, roles, 2)
}
