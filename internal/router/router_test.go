package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageza/nibble/backend/internal/dish"
	"github.com/pageza/nibble/backend/internal/middleware"
	"github.com/pageza/nibble/backend/internal/retrieval"
	"github.com/pageza/nibble/backend/internal/types"
)

type stubDishes struct {
	calls int
}

func (s *stubDishes) IdentifyFromNeighbors(ctx context.Context, imageB64 string, topK int) (*dish.Result, error) {
	s.calls++
	return &dish.Result{RequestID: "req", Neighbors: []retrieval.Neighbor{}}, nil
}

func (s *stubDishes) IdentifyHybrid(ctx context.Context, imageB64 string, opts dish.HybridOptions) (*dish.Result, error) {
	s.calls++
	return &dish.Result{RequestID: "req", Mode: dish.ModeHybrid, Neighbors: []retrieval.Neighbor{}}, nil
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &types.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           uuid.New(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestSetupRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	dishes := &stubDishes{}
	router := SetupRouter(Dependencies{
		Dishes:  dishes,
		Tokens:  middleware.NewJWTValidator("secret"),
		Limiter: middleware.NewDishInferenceRateLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 1, nil),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	identify := func(auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/dishes/identify/hybrid", strings.NewReader(`{"image_b64":"aGVsbG8="}`))
		req.Header.Set("Content-Type", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, identify("").Code)
	token := bearer(t)
	assert.Equal(t, http.StatusOK, identify(token).Code)
	assert.Equal(t, http.StatusTooManyRequests, identify(token).Code)
	assert.Equal(t, 1, dishes.calls)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dishes/quota", nil)
	req.Header.Set("Authorization", token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"remaining":0`)
}
