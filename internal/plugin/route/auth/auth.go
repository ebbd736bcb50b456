// Package auth mounts registration, login and account profile routes.
package auth

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/carevault/internal/plugin/route/apierror"
	registryroute "github.com/chirino/carevault/internal/registry/route"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "auth",
		Order: 10,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r *gin.Engine, deps registryroute.Deps) error {
			MountRoutes(r, deps)
			return nil
		},
	})
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string        `json:"accessToken"`
	TokenType   string        `json:"tokenType"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	UserID      string        `json:"userId"`
	Role        security.Role `json:"role"`
}

// MountRoutes mounts account routes.
func MountRoutes(r *gin.Engine, deps registryroute.Deps) {
	public := r.Group("/v1/auth")
	public.POST("/register", func(c *gin.Context) { register(c, deps) })
	public.POST("/login", func(c *gin.Context) { login(c, deps) })

	g := r.Group("/v1", security.AuthRequired())
	g.GET("/me", func(c *gin.Context) { getUser(c, deps.Store, security.GetIdentity(c).ID) })
	g.GET("/users/:userId", func(c *gin.Context) { getUser(c, deps.Store, c.Param("userId")) })

	admin := r.Group("/v1/admin", security.RolesRequired(security.RoleAdmin))
	admin.PUT("/users/:userId/role", func(c *gin.Context) { setRole(c, deps.Store) })
}

func register(c *gin.Context, deps registryroute.Deps) {
	var req registerRequest
	if !apierror.BindJSON(c, &req) {
		return
	}
	// the role is never taken from the body
	role := security.RoleUser
	if deps.Config.IsAdminEmail(req.Email) {
		role = security.RoleAdmin
	}
	profile, err := deps.Store.RegisterUser(c.Request.Context(), registrystore.RegisterRequest{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        role,
	})
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

func login(c *gin.Context, deps registryroute.Deps) {
	var req loginRequest
	if !apierror.BindJSON(c, &req) {
		return
	}
	profile, err := deps.Store.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	token, expiresAt, err := deps.Tokens.Issue(profile.Identity())
	if err != nil {
		apierror.Internal(c, err)
		return
	}
	log.Info("User logged in", "userId", profile.ID)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		UserID:      profile.ID,
		Role:        profile.Role,
	})
}

func getUser(c *gin.Context, store registrystore.CareStore, userID string) {
	profile, err := store.GetUser(c.Request.Context(), security.GetIdentity(c), userID)
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func setRole(c *gin.Context, store registrystore.CareStore) {
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if !apierror.BindJSON(c, &req) {
		return
	}
	role, err := security.ParseRole(req.Role)
	if err != nil {
		apierror.BadRequest(c, "role", "must be one of user, therapist, admin")
		return
	}
	profile, err := store.SetUserRole(c.Request.Context(), security.GetIdentity(c), c.Param("userId"), role)
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}
