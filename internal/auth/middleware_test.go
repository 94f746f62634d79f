package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/v1", DeviceAuth("secret", "noesis-attendance"))
	g.GET("/checkins", func(c *gin.Context) { c.Status(http.StatusOK) })
	g.GET("/qr", RequireRole(RoleLecturer), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func bearerToken(t *testing.T, role string) string {
	t.Helper()
	pair, err := Issue("subject-1", role, "noesis-attendance", "secret", 15*time.Minute, time.Hour)
	require.NoError(t, err)
	return pair.AccessToken
}

func get(r *gin.Engine, path, token string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestDeviceAuthRejectsMissingToken(t *testing.T) {
	r := protectedRouter()
	assert.Equal(t, http.StatusUnauthorized, get(r, "/v1/checkins", ""))
}

func TestDeviceAuthRejectsBadToken(t *testing.T) {
	r := protectedRouter()
	assert.Equal(t, http.StatusUnauthorized, get(r, "/v1/checkins", "not-a-jwt"))
}

func TestDeviceAuthAcceptsValidToken(t *testing.T) {
	r := protectedRouter()
	assert.Equal(t, http.StatusOK, get(r, "/v1/checkins", bearerToken(t, RoleDevice)))
}

func TestRequireRoleBlocksDeviceToken(t *testing.T) {
	r := protectedRouter()

	// A student device must not reach QR management.
	assert.Equal(t, http.StatusForbidden, get(r, "/v1/qr", bearerToken(t, RoleDevice)))
	assert.Equal(t, http.StatusOK, get(r, "/v1/qr", bearerToken(t, RoleLecturer)))
}
