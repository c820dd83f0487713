package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func newEngine(secret string) *gin.Engine {
	r := gin.New()
	r.Use(CORS(), Authentication(secret))
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})
	return r
}

func call(r *gin.Engine, method, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/whoami", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticationAcceptsValidToken(t *testing.T) {
	token := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	w := call(newEngine(testSecret), http.MethodGet, "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-42", w.Body.String())
}

func TestAuthenticationRejections(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name string
		auth string
	}{
		{name: "no header", auth: ""},
		{name: "not bearer", auth: "Basic abc"},
		{name: "empty bearer", auth: "Bearer "},
		{name: "garbage", auth: "Bearer not.a.jwt"},
		{name: "wrong secret", auth: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u", "exp": future})},
		{name: "expired", auth: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Hour).Unix()})},
		{name: "no expiry", auth: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u"})},
		{name: "no subject", auth: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"exp": future})},
		{name: "other algorithm", auth: "Bearer " + sign(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{"sub": "u", "exp": future})},
	}

	r := newEngine(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(r, http.MethodGet, tt.auth)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAuthenticationDisabledWithoutSecret(t *testing.T) {
	w := call(newEngine(""), http.MethodGet, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, AnonymousUserID, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	w := call(newEngine(testSecret), http.MethodOptions, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}
