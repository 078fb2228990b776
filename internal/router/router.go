package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pageza/nibble/backend/internal/api"
	"github.com/pageza/nibble/backend/internal/middleware"
)

// Dependencies are the collaborators the routes are built from. Limiter is
// optional; without it dish routes are not rate limited.
type Dependencies struct {
	Dishes      api.DishIdentifier
	Tokens      middleware.TokenValidator
	Limiter     *middleware.RateLimiter
	Checks      map[string]api.Checker
	CORSOrigins []string
	Logger      *zap.Logger
}

// SetupRouter configures the application routes
func SetupRouter(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(
		middleware.RequestLogger(logger.Named("http")),
		middleware.Recovery(logger.Named("http")),
		middleware.CORS(deps.CORSOrigins),
	)

	router.GET("/health", api.HealthCheck)
	router.GET("/health/ready", api.ReadinessCheck(deps.Checks))

	// API v1 routes
	v1 := router.Group("/api/v1")

	guards := []gin.HandlerFunc{middleware.AuthMiddleware(deps.Tokens)}
	if deps.Limiter != nil {
		guards = append(guards, deps.Limiter.RateLimitMiddleware())
		v1.GET("/dishes/quota", middleware.AuthMiddleware(deps.Tokens), deps.Limiter.QuotaHandler)
	}
	api.NewDishHandler(deps.Dishes, logger).RegisterRoutes(v1, guards...)

	return router
}
