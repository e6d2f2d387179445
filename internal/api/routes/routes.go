package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/postyhq/rewardguard/internal/api/handlers"
	"github.com/postyhq/rewardguard/internal/api/middleware"
	"github.com/postyhq/rewardguard/internal/config"
	"github.com/postyhq/rewardguard/internal/metrics"
	"github.com/postyhq/rewardguard/internal/models"
	"github.com/postyhq/rewardguard/internal/services"
)

// Engine bundles the long-lived services the scheduler shares with the HTTP
// layer.
type Engine struct {
	Events  *services.EventLog
	Blocks  *services.BlockRegistry
	Reports *services.ReportService
}

// Register wires up API routes and performs automatic migrations.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config) (*Engine, error) {
	if err := db.AutoMigrate(
		&models.SecurityEvent{},
		&models.DailyQuota{},
		&models.LastRequest{},
		&models.ClaimRecord{},
		&models.DeviceBlock{},
		&models.DeviceProfile{},
		&models.ThreatAnalysis{},
		&models.AdminAlert{},
		&models.AppUser{},
		&models.SubscriptionVerification{},
		&models.DailyMetric{},
		&models.SecurityReport{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics.Register(registry)

	events := services.NewEventLog(db)
	blocks := services.NewBlockRegistry(db)
	alerts := services.NewAlertService(db, cfg.AlertURLs)
	threats := services.NewThreatAnalyzer(db, events, blocks, alerts)
	ledger := services.NewQuotaLedger(db)
	patterns := services.NewPatternAnalyzer(ledger, services.DefaultPatternThresholds())
	auth := services.NewAuthenticator(cfg.TokenSecret, cfg.AdSecret)
	verifier := services.NewVerificationService(db, auth, ledger, patterns, threats, blocks,
		events, cfg.IsProduction())
	subscriptions := services.NewSubscriptionVerifier(db, cfg.Apple, cfg.Google)
	reports := services.NewReportService(db, blocks)

	router.GET("/api/v1/health", handlers.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	api.Use(middleware.RateLimit())

	handlers.NewVerificationHandler(verifier, threats).RegisterRoutes(api)
	handlers.NewSubscriptionHandler(subscriptions).RegisterRoutes(api)

	admin := api.Group("/admin")
	admin.Use(middleware.AdminAuth(cfg.AdminJWTSecret))
	handlers.NewAdminHandler(reports, alerts).RegisterRoutes(admin)

	return &Engine{Events: events, Blocks: blocks, Reports: reports}, nil
}
