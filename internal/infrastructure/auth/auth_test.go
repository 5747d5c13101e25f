package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jan-server/services/dm-api/internal/config"
)

const testKID = "test-key"

func newRouter(v *Validator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", v.Middleware(), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

func newJWTValidator(t *testing.T) (*Validator, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := keyfunc.NewGiven(map[string]keyfunc.GivenKey{
		testKID: keyfunc.NewGivenRSA(&key.PublicKey, keyfunc.GivenKeyOptions{Algorithm: "RS256"}),
	})
	cfg := &config.Config{AuthEnabled: true, AuthIssuer: "https://issuer.test", AuthAudience: "dm-api"}
	return &Validator{cfg: cfg, log: zerolog.Nop(), jwks: jwks}, key
}

func sign(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func do(r *gin.Engine, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_DisabledUsesGatewayHeaders(t *testing.T) {
	r := newRouter(&Validator{cfg: &config.Config{}, log: zerolog.Nop()})

	w := do(r, map[string]string{"X-User-ID": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	w = do(r, map[string]string{"X-Consumer-Custom-ID": "bob"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, map[string]string{"X-Credential-Identifier": "cred", "X-Consumer-Custom-ID": "bob"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", w.Body.String())

	w = do(r, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_ValidatesJWT(t *testing.T) {
	v, key := newJWTValidator(t)
	r := newRouter(v)
	now := time.Now()

	valid := sign(t, key, jwt.MapClaims{
		"sub": "alice",
		"iss": "https://issuer.test",
		"aud": "dm-api",
		"exp": now.Add(time.Hour).Unix(),
	})
	w := do(r, map[string]string{"Authorization": "Bearer " + valid})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "api key", header: "Bearer sk_abc"},
		{name: "wrong issuer", header: "Bearer " + sign(t, key, jwt.MapClaims{"sub": "alice", "iss": "https://other", "aud": "dm-api", "exp": now.Add(time.Hour).Unix()})},
		{name: "wrong audience", header: "Bearer " + sign(t, key, jwt.MapClaims{"sub": "alice", "iss": "https://issuer.test", "aud": "other", "exp": now.Add(time.Hour).Unix()})},
		{name: "expired", header: "Bearer " + sign(t, key, jwt.MapClaims{"sub": "alice", "iss": "https://issuer.test", "aud": "dm-api", "exp": now.Add(-time.Hour).Unix()})},
		{name: "no subject", header: "Bearer " + sign(t, key, jwt.MapClaims{"iss": "https://issuer.test", "aud": "dm-api", "exp": now.Add(time.Hour).Unix()})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, map[string]string{"Authorization": tt.header})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestMiddleware_GatewayHeadersWithJWT(t *testing.T) {
	v, _ := newJWTValidator(t)

	v.cfg.TrustGatewayHeaders = true
	w := do(newRouter(v), map[string]string{"X-User-ID": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	v.cfg.TrustGatewayHeaders = false
	w = do(newRouter(v), map[string]string{"X-User-ID": "alice"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"unauthorized_error"`)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken(""))
}
