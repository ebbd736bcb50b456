// Package conversations mounts the conversation and message routes.
package conversations

import (
	"net/http"
	"strconv"

	"github.com/chirino/carevault/internal/plugin/route/apierror"
	registryroute "github.com/chirino/carevault/internal/registry/route"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "conversations",
		Order: 20,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r *gin.Engine, deps registryroute.Deps) error {
			MountRoutes(r, deps.Store)
			return nil
		},
	})
}

// MountRoutes mounts conversation and message routes.
func MountRoutes(r *gin.Engine, store registrystore.CareStore) {
	g := r.Group("/v1", security.AuthRequired())

	g.POST("/conversations", func(c *gin.Context) { startConversation(c, store) })
	g.GET("/conversations", func(c *gin.Context) { listConversations(c, store) })
	g.POST("/messages", func(c *gin.Context) { sendMessage(c, store) })
	g.GET("/messages/:conversationId", func(c *gin.Context) { getMessages(c, store) })
}

func startConversation(c *gin.Context, store registrystore.CareStore) {
	var req struct {
		PeerID string `json:"peerId"`
	}
	if !apierror.BindJSON(c, &req) {
		return
	}
	conv, created, err := store.StartConversation(c.Request.Context(), security.GetIdentity(c), req.PeerID)
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conv)
}

func listConversations(c *gin.Context, store registrystore.CareStore) {
	convs, err := store.ListConversations(c.Request.Context(), security.GetIdentity(c))
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": convs})
}

func sendMessage(c *gin.Context, store registrystore.CareStore) {
	var req struct {
		ConversationID string `json:"conversationId"`
		Text           string `json:"text"`
	}
	if !apierror.BindJSON(c, &req) {
		return
	}
	convID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		apierror.BadRequest(c, "conversationId", "must be a conversation id")
		return
	}
	msg, err := store.SendMessage(c.Request.Context(), security.GetIdentity(c), convID, req.Text)
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func getMessages(c *gin.Context, store registrystore.CareStore) {
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > registrystore.MaxMessagePageSize {
			apierror.BadRequest(c, "limit", "must be between 1 and "+strconv.Itoa(registrystore.MaxMessagePageSize))
			return
		}
		limit = n
	}
	page, err := store.GetMessages(c.Request.Context(), security.GetIdentity(c), convID, queryPtr(c, "afterCursor"), limit)
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func queryPtr(c *gin.Context, key string) *string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	return &v
}
