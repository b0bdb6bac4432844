package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func protectedRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	chain := append([]gin.HandlerFunc{JWTAuthMiddleware(testSecret)}, handlers...)
	chain = append(chain, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":  c.GetString("user_id"),
			"username": c.GetString("username"),
			"role":     c.GetString("user_role"),
		})
	})
	router.GET("/protected", chain...)
	return router
}

func TestMissingTokenRejected(t *testing.T) {
	router := protectedRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerTokenAccepted(t *testing.T) {
	token, err := IssueSessionToken(testSecret, 7, "chief", "admin", time.Hour)
	require.NoError(t, err)

	router := protectedRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"username":"chief"`)
	require.Contains(t, w.Body.String(), `"user_id":"7"`)
}

func TestQueryParamTokenAccepted(t *testing.T) {
	// WebSocket clients cannot set headers; the token rides the query string
	token, err := IssueSessionToken(testSecret, 7, "chief", "viewer", time.Hour)
	require.NoError(t, err)

	router := protectedRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected?access_token="+token, nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := IssueSessionToken(testSecret, 7, "chief", "admin", -time.Minute)
	require.NoError(t, err)

	router := protectedRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := IssueSessionToken("some-other-secret", 7, "chief", "admin", time.Hour)
	require.NoError(t, err)

	router := protectedRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	router := protectedRouter(RequireAdmin())

	adminToken, err := IssueSessionToken(testSecret, 1, "chief", "admin", time.Hour)
	require.NoError(t, err)
	viewerToken, err := IssueSessionToken(testSecret, 2, "probie", "viewer", time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+viewerToken)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}
