package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/repairdesk/backend/internal/config"
	"github.com/repairdesk/backend/internal/http/handlers"
	"github.com/repairdesk/backend/internal/http/middleware"
	"github.com/repairdesk/backend/internal/money"
	"github.com/repairdesk/backend/internal/service"

	_ "github.com/repairdesk/backend/docs"
)

func Router(cfg config.Config, store handlers.Store, svc *service.CommissionService, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.MaxMultipartMemory = cfg.MaxUploadSizeMB << 20

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" || cfg.CORSAllowed == "" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	formatter := money.NewFormatter(cfg.Locale, cfg.Currency)
	h := &handlers.Handler{
		Store:      store,
		Service:    svc,
		Normalizer: service.Normalizer{Logger: logger.With().Str("component", "normalizer").Logger()},
		Validator:  validator.New(),
		Logger:     logger,
		Formatter:  formatter,
		Currency:   formatter.DefaultCurrency,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/tickets", h.TicketsList)
		api.GET("/tickets/:id/commission", h.TicketCommission)
		api.GET("/payments", h.PaymentsList)
		api.GET("/dashboard", h.Dashboard)
		api.GET("/technicians/:id/summary", h.TechnicianSummary)
		api.GET("/technicians/:id/tickets", h.TechnicianTickets)
		api.GET("/technicians/:id/payouts", h.TechnicianPayouts)
		api.POST("/ledger/compute", h.ComputeLedger)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/technicians/:id/payouts/validate", h.ValidatePayout)
		admin.POST("/technicians/:id/payouts", h.CreatePayout)
		admin.POST("/payments/:id/validate", h.SetPaymentStatus)
		admin.POST("/import", h.Import)
		admin.GET("/audit", h.Audit)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
