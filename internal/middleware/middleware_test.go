package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/eventhub-auth/internal/models"
	appErrors "github.com/noah-isme/eventhub-auth/pkg/errors"
)

type stubGuard struct {
	claims *models.AccessTokenClaims
	err    error
	token  string
}

func (g *stubGuard) Authenticate(ctx context.Context, token string) (*models.AccessTokenClaims, error) {
	g.token = token
	return g.claims, g.err
}

type errorBody struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func newProtectedRouter(guard Authenticator, extra ...gin.HandlerFunc) *gin.Engine {
	return newRouterWithDevAuth(guard, DevAuthConfig{}, extra...)
}

func newRouterWithDevAuth(guard Authenticator, devAuth DevAuthConfig, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWT(guard, devAuth)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		claims, _ := CurrentClaims(c)
		c.JSON(http.StatusOK, gin.H{"sub": claims.Subject})
	})
	r.GET("/users/:id", handlers...)
	return r
}

func doRequest(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func claimsFor(sub string, roles ...string) *models.AccessTokenClaims {
	return &models.AccessTokenClaims{Roles: roles, RegisteredClaims: jwt.RegisteredClaims{Subject: sub}}
}

func TestJWTAcceptsBearerToken(t *testing.T) {
	guard := &stubGuard{claims: claimsFor("1")}
	w := doRequest(newProtectedRouter(guard), "/users/1", "Bearer abc")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc", guard.token)
}

func TestJWTRejectsMissingOrMalformedHeader(t *testing.T) {
	r := newProtectedRouter(&stubGuard{claims: claimsFor("1")})

	w := doRequest(r, "/users/1", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, "/users/1", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errorCode(t, w))
}

func TestJWTCollapsesTokenFailures(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{appErrors.Clone(appErrors.ErrTokenRevoked, ""), http.StatusUnauthorized, appErrors.ErrUnauthorized.Code},
		{appErrors.Clone(appErrors.ErrInvalidSignature, ""), http.StatusUnauthorized, appErrors.ErrUnauthorized.Code},
		{appErrors.Clone(appErrors.ErrTokenExpired, ""), http.StatusUnauthorized, appErrors.ErrTokenExpired.Code},
		{appErrors.Clone(appErrors.ErrUserNotFound, ""), http.StatusNotFound, appErrors.ErrUserNotFound.Code},
		{appErrors.Clone(appErrors.ErrUpstreamUnavailable, ""), http.StatusServiceUnavailable, appErrors.ErrUpstreamUnavailable.Code},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			w := doRequest(newProtectedRouter(&stubGuard{err: tc.err}), "/users/1", "Bearer abc")
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, errorCode(t, w))
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		})
	}
}

func TestRBAC(t *testing.T) {
	r := newProtectedRouter(&stubGuard{claims: claimsFor("7", models.RoleStudent)}, RBAC(models.RoleAdmin, SelfRole))

	assert.Equal(t, http.StatusOK, doRequest(r, "/users/7", "Bearer abc").Code)
	assert.Equal(t, http.StatusForbidden, doRequest(r, "/users/8", "Bearer abc").Code)

	admin := newProtectedRouter(&stubGuard{claims: claimsFor("1", models.RoleAdmin)}, RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusOK, doRequest(admin, "/users/8", "Bearer abc").Code)
}

type recordingObserver struct {
	mu    sync.Mutex
	paths []string
	codes []int
}

func (o *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, path)
	o.codes = append(o.codes, status)
}

func TestMetricsLabelsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	obs := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(obs))
	r.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	doRequest(r, "/users/42", "")
	doRequest(r, "/nope", "")

	assert.Equal(t, []string{"/users/:id", unmatchedRoute}, obs.paths)
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNotFound}, obs.codes)
}
