package webserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkincode/wabot/config"
)

const testSecret = "test-secret"

func setup(t *testing.T) {
	t.Helper()
	cfg := *config.DefaultAppConfig
	cfg.Web.JwtSecret = testSecret
	Init(&cfg)
	ApiGET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]int64{"uid": CurrentUserID(c)})
	})
	ApiPOST("/auth/login", func(c echo.Context) error {
		return c.String(http.StatusOK, "public")
	})
	RootGET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	Echo().ServeHTTP(rec, req)
	return rec
}

func TestTokenRoundTrip(t *testing.T) {
	raw, err := NewToken(testSecret, 42, "alice", time.Hour)
	require.NoError(t, err)

	uid, err := UserIDFromToken(testSecret, raw)
	require.NoError(t, err)
	assert.EqualValues(t, 42, uid)

	_, err = ParseToken("other-secret", raw)
	assert.Error(t, err)

	expired, err := NewToken(testSecret, 42, "alice", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, expired)
	assert.Error(t, err)
}

func TestApiRequiresToken(t *testing.T) {
	setup(t)

	rec := do(httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")

	raw, err := NewToken(testSecret, 7, "bob", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+raw)
	rec = do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"uid":7}`, rec.Body.String())
}

func TestPublicRoutes(t *testing.T) {
	setup(t)

	rec := do(httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{}")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public", rec.Body.String())

	rec = do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFoundUsesEnvelope(t *testing.T) {
	setup(t)
	rec := do(httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"Not Found"`)
}
