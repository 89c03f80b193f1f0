package bootstrap

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	httpapi "github.com/kumbh-rakshak/kr-backend/internal/api/http"
	"github.com/kumbh-rakshak/kr-backend/internal/api/middleware"
	identityhttp "github.com/kumbh-rakshak/kr-backend/internal/identity/http"
	"github.com/kumbh-rakshak/kr-backend/internal/identity/session"
)

type RouterDeps struct {
	ServiceName string
	Version     string
	Reconciler  *session.Reconciler
	Cache       *redis.Client
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.Cache)
	healthHandler.RegisterRoutes(r)

	api := r.Group("/api/v1")
	api.Use(middleware.RequestIDMiddleware())

	authGroup := api.Group("/auth")
	identityhttp.NewHandler(dep.Reconciler).Register(authGroup)

	return r
}
