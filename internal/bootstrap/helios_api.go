package bootstrap

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"helios_server/adapter/in/http"
	"helios_server/config"
	"helios_server/infra/middleware"
	"helios_server/pkg/logger"
)

// NewAPI builds the HTTP application with all routes wired.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "helios-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadTimeout:           cfg.RequestTimeout,
		WriteTimeout:          cfg.RequestTimeout,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             5 * 1024 * 1024,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,If-None-Match,X-Request-ID,X-Admin-Token",
	}))

	http.NewHealthHandler(deps.DB, deps.Redis).Register(app)

	api := app.Group("/api")
	http.NewAllowlistHandler(deps.AllowlistService).Register(api)
	http.NewClientHandler(deps.ContactService).Register(api)
	http.NewSenderHandler(deps.TriageService).Register(api)
	http.NewIngestHandler(deps.IngestService, deps.TaskRepo).Register(api)
	http.NewScheduleHandler(deps.ScheduleService, cfg.SchedulerHorizonDays, cfg.Location()).Register(api)

	admin := api.Group("/admin", middleware.AdminToken(cfg.AdminToken))
	http.NewAdminHandler(deps.Sweeper).Register(admin)

	logger.Info("API server initialized successfully")
	return app, cleanup, nil
}
