package routes

import (
	"context"
	"net/http"
	"time"

	"scanpilot/internal/handlers"
	"scanpilot/internal/handlers/web"
	"scanpilot/internal/metrics"
	"scanpilot/internal/services"
	"scanpilot/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Dependencies struct {
	Scans          services.ScanServiceMethods
	Chat           services.ChatServiceMethods
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	Logger         *logger.Logger
}

func InitRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(deps.Logger))

	if len(deps.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     deps.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	scanHandler := handlers.NewScanHandler(deps.Scans, deps.Logger)
	indexHandler := web.NewIndexHandler(deps.Scans, deps.Logger)

	// REST APIs
	api := router.Group("/api")
	{
		InitScanRoutes(api, scanHandler)
		if deps.Chat != nil {
			InitChatRoutes(api, handlers.NewChatHandler(deps.Chat, deps.Logger))
		}
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// web pages
	router.GET("/", indexHandler.HomePage)
	router.GET("/scans/:id", indexHandler.ScanDetailPage)

	return router
}

const requestIDHeader = "X-Request-ID"

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, requestID)

		c.Next()
		log.WithContext(ctx).WithFields(logrus.Fields(logger.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})).Debug("HTTP request")
	}
}
