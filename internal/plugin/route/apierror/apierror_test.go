package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chirino/carevault/internal/config"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, mode string, handler gin.HandlerFunc, body string) (int, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.Mode = mode
	r := gin.New()
	r.POST("/x", handler)

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
	req = req.WithContext(config.WithContext(context.Background(), &cfg))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func TestHandle_StatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&security.AuthenticationError{}, http.StatusUnauthorized, "unauthenticated"},
		{&security.AuthorizationError{Message: "not a participant"}, http.StatusForbidden, "forbidden"},
		{&registrystore.ValidationError{Field: "text", Message: "is required"}, http.StatusBadRequest, "validation_error"},
		{&registrystore.NotFoundError{Resource: "conversation", ID: "x"}, http.StatusNotFound, "not_found"},
		{&registrystore.ConflictError{Message: "taken", Code: "email_taken"}, http.StatusConflict, "email_taken"},
		{&registrystore.ConflictError{Message: "taken"}, http.StatusConflict, "conflict"},
		{fmt.Errorf("wrapped: %w", &security.AuthorizationError{}), http.StatusForbidden, "forbidden"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			status, body := serve(t, config.ModeProd, func(c *gin.Context) { Handle(c, tc.err) }, "")
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.code, body["code"])
		})
	}
}

func TestHandle_ValidationCarriesField(t *testing.T) {
	_, body := serve(t, config.ModeProd, func(c *gin.Context) {
		Handle(c, &registrystore.ValidationError{Field: "moodScore", Message: "must be between 1 and 5"})
	}, "")
	require.Equal(t, "moodScore", body["field"])
}

func TestInternal_HidesDetailsInProd(t *testing.T) {
	cause := &registrystore.TransactionError{Op: "erase_all", Err: errors.New(`pq: relation "users" is locked`)}

	status, body := serve(t, config.ModeProd, func(c *gin.Context) { Handle(c, cause) }, "")
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "internal server error", body["error"])
	require.NotContains(t, body, "details")

	_, body = serve(t, config.ModeTesting, func(c *gin.Context) { Handle(c, cause) }, "")
	require.Contains(t, body["details"], "erase_all")
}

func TestBindJSON(t *testing.T) {
	handler := func(c *gin.Context) {
		var dst struct {
			Text string `json:"text"`
		}
		if !BindJSON(c, &dst) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": dst.Text})
	}

	status, body := serve(t, config.ModeProd, handler, `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "hi", body["text"])

	status, body = serve(t, config.ModeProd, handler, `{"text":`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "validation_error", body["code"])

	limited := func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 4)
		handler(c)
	}
	status, body = serve(t, config.ModeProd, limited, `{"text":"much too long"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, status)
	require.Equal(t, "body_too_large", body["code"])
}
