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

const testSecret = "test-secret"

func protectedRouter(role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", Require(testSecret, role), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"email": Email(c), "role": Role(c)})
	})
	return r
}

func doGet(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIssueAndParse(t *testing.T) {
	token, err := IssueToken(testSecret, "alice@example.com", RoleCustomer, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, RoleCustomer, claims.Role)
}

func TestParse_Rejections(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		token, err := IssueToken("other-secret", "a@b.c", RoleOwner, time.Hour)
		require.NoError(t, err)
		_, err = ParseToken(testSecret, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := IssueToken(testSecret, "a@b.c", RoleOwner, -time.Minute)
		require.NoError(t, err)
		_, err = ParseToken(testSecret, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseToken(testSecret, "not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRequire(t *testing.T) {
	r := protectedRouter(RoleCustomer)

	t.Run("missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, doGet(r, "").Code)
	})

	t.Run("not bearer", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, doGet(r, "Basic abc").Code)
	})

	t.Run("bad token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, doGet(r, "Bearer junk").Code)
	})

	t.Run("wrong role", func(t *testing.T) {
		token, err := IssueToken(testSecret, "bob@example.com", RoleCourier, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, doGet(r, "Bearer "+token).Code)
	})

	t.Run("valid", func(t *testing.T) {
		token, err := IssueToken(testSecret, "alice@example.com", RoleCustomer, time.Hour)
		require.NoError(t, err)
		w := doGet(r, "Bearer "+token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "alice@example.com")
	})
}
