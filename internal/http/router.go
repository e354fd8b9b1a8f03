package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/intl_dossier/backend/internal/config"
	"github.com/intl_dossier/backend/internal/db"
	"github.com/intl_dossier/backend/internal/http/handlers"
	"github.com/intl_dossier/backend/internal/http/middleware"
	"github.com/intl_dossier/backend/internal/service"

	_ "github.com/intl_dossier/backend/docs"
)

func Router(cfg config.Config, store db.Store, lifecycle *service.LifecycleService, autoAssign *service.AutoAssignService, bulk *service.BulkService, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.MaxMultipartMemory = cfg.MaxUploadSizeMB << 20

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-User-Id", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:      store,
		Lifecycle:  lifecycle,
		AutoAssign: autoAssign,
		Bulk:       bulk,
		Validator:  validator.New(),
		Logger:     logger,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")

	user := api.Group("")
	user.Use(middleware.Caller())
	{
		user.GET("/assignments/mine", h.ListMine)
		user.POST("/assignments/bulk", h.BulkSubmit)
		user.GET("/bulk/:id", h.BulkStatus)
		user.POST("/assignments/:id/escalate", h.Escalate)
		user.POST("/assignments/:id/complete", h.Complete)
		user.POST("/assignments/:id/cancel", h.Cancel)
		user.POST("/escalations/:id/acknowledge", h.Acknowledge)
		user.POST("/queue/:id/escalate", h.EscalateQueueEntry)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey), middleware.Caller())
	{
		admin.POST("/directory/import", h.ImportDirectory)
		admin.POST("/assignments", h.Intake)
		admin.POST("/queue/process", h.ProcessQueue)
		admin.GET("/queue", h.QueueList)
		admin.GET("/staff", h.StaffList)
		admin.GET("/runs/latest", h.RunsLatest)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
