package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
)

type tokenStub map[string]*models.JWTClaims

func (s tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

var tokens = tokenStub{
	"student": {UserID: "s1", Role: models.RoleStudent, Grade: 2, ClassName: "A"},
	"teacher": {UserID: "t1", Role: models.RoleTeacher, Grade: 2, ClassName: "A"},
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/students/:id", append(handlers, func(c *gin.Context) {
		claims, _ := CurrentClaims(c)
		c.String(http.StatusOK, claims.UserID)
	})...)
	return r
}

func do(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	r := newRouter(JWT(tokens))

	cases := []struct {
		name string
		auth string
		want int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic student", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer student", http.StatusOK},
		{"case insensitive scheme", "bearer teacher", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, do(r, "/students/s1", tc.auth).Code)
		})
	}
}

func TestRBAC(t *testing.T) {
	r := newRouter(JWT(tokens), RBAC(string(models.RoleTeacher), string(models.RoleAdmin), Self))

	w := do(r, "/students/s2", "Bearer teacher")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, "/students/s1", "Bearer student")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s1", w.Body.String())

	w = do(r, "/students/s2", "Bearer student")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	r := newRouter(RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, do(r, "/students/s1", "").Code)
}

type observerStub struct {
	method, path string
	status       int
	duration     time.Duration
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.method, o.path, o.status, o.duration = method, path, status, duration
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	obs := &observerStub{}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(obs))
	r.GET("/entries/:id", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	do(r, "/entries/abc", "")
	require.Equal(t, "/entries/:id", obs.path)
	assert.Equal(t, http.MethodGet, obs.method)
	assert.Equal(t, http.StatusAccepted, obs.status)

	do(r, "/nowhere/42", "")
	assert.Equal(t, "unmatched", obs.path)
	assert.Equal(t, http.StatusNotFound, obs.status)
}
