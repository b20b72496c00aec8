package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"helios_server/adapter/out/persistence"
	"helios_server/adapter/out/provider"
	"helios_server/adapter/out/tasksource"
	"helios_server/config"
	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/core/service/allowlist"
	"helios_server/core/service/contact"
	"helios_server/core/service/ingest"
	"helios_server/core/service/schedule"
	"helios_server/core/service/triage"
	"helios_server/infra/database"
	"helios_server/pkg/cache"
	"helios_server/pkg/logger"
	"helios_server/pkg/ratelimit"
)

// Dependencies holds every wired adapter and service.
type Dependencies struct {
	DB    *pgxpool.Pool
	SQLDB *sqlx.DB
	Redis *redis.Client

	Guard *ratelimit.ProviderGuard

	ClientRepo out.ClientRepository
	SenderRepo out.UnknownSenderRepository
	TaskRepo   out.EmailTaskRepository

	GmailProvider    out.MailProviderPort
	CalendarProvider out.CalendarProviderPort

	AllowlistService *allowlist.Service
	ContactService   *contact.Service
	TriageService    *triage.Service
	IngestService    *ingest.Service
	ScheduleService  *schedule.Service
	Sweeper          *ingest.Sweeper
}

// spaceBuckets routes source labels to buckets for tasks whose client tags
// carry no canonical bucket tag.
var spaceBuckets = map[string]domain.Bucket{
	"clients":   domain.BucketClientDeepWork,
	"systems":   domain.BucketSystemsDevelopment,
	"marketing": domain.BucketMarketingCreative,
	"admin":     domain.BucketAdminProcessing,
	"personal":  domain.BucketPersonal,
}

// NewDependencies wires the full dependency graph. The returned cleanup
// closes connections in reverse construction order.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}

	pool, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	cleanups = append(cleanups, pool.Close)

	migrateCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := database.Migrate(migrateCtx, pool); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	// sqlx over pgx stdlib for the row-mapping adapters. The pool above serves
	// health checks and migrations.
	sqlURL := cfg.DatabaseURL
	if !strings.Contains(sqlURL, "default_query_exec_mode") {
		sep := "?"
		if strings.Contains(sqlURL, "?") {
			sep = "&"
		}
		sqlURL += sep + "default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect sqlx: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)
	cleanups = append(cleanups, func() { sqlDB.Close() })

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, allowlist cache and debounce degrade to local")
			redisClient = nil
		} else {
			cleanups = append(cleanups, func() { redisClient.Close() })
		}
	}

	guard := ratelimit.NewProviderGuard(redisClient, &ratelimit.Config{
		MaxConcurrent:    cfg.ProviderMaxConcurrent,
		DebounceDuration: time.Duration(cfg.SweepIntervalMin) * time.Minute / 3,
	})

	clientRepo := persistence.NewClientAdapter(sqlDB)
	allowRepo := persistence.NewAllowlistAdapter(sqlDB)
	senderRepo := persistence.NewSenderAdapter(sqlDB)
	taskRepo := persistence.NewEmailAdapter(sqlDB)

	var allowCache out.AllowlistCache
	if redisClient != nil {
		ttl := time.Duration(cfg.AllowlistCacheTTLSec) * time.Second
		allowCache = persistence.NewAllowlistCacheAdapter(cache.NewRedisCache(redisClient), ttl)
	}

	googleCfg := &provider.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RefreshToken: cfg.GoogleRefreshToken,
		ProjectID:    cfg.GoogleProjectID,
	}
	gmailProvider := provider.NewGmailAdapter(googleCfg, guard)
	calendarProvider := provider.NewCalendarAdapter(googleCfg, guard)

	taskSource := tasksource.NewStoreSource(sqlDB, spaceBuckets)

	allowService := allowlist.NewService(allowRepo, allowCache)
	contactService := contact.NewService(clientRepo)
	triageService := triage.NewService(senderRepo, clientRepo)
	ingestService := ingest.NewService(allowService, contactService, triageService, taskRepo, cfg.IngestThreadMode)

	schedCfg := domain.DefaultSchedulerConfig()
	schedCfg.RespectBusy = cfg.SchedulerRespectBusy
	if cfg.ReflowMinChunkMin > 0 {
		schedCfg.ReflowMinChunkMinutes = cfg.ReflowMinChunkMin
	}
	if cfg.ReflowPerTaskCapMin > 0 {
		schedCfg.ReflowPerTaskCapMinutes = cfg.ReflowPerTaskCapMin
	}
	scheduleService := schedule.NewService(
		calendarProvider,
		taskSource,
		&schedCfg,
		cfg.Location(),
		cfg.FixedCalendarID,
		cfg.FlexibleCalendarID,
	)

	sweeper := ingest.NewSweeper(
		gmailProvider,
		ingestService,
		cfg.MailTriageLabels,
		cfg.MailLookbackDays,
		cfg.MailMaxPerLabel,
		cfg.IngestDryRun,
	)

	deps := &Dependencies{
		DB:               pool,
		SQLDB:            sqlDB,
		Redis:            redisClient,
		Guard:            guard,
		ClientRepo:       clientRepo,
		SenderRepo:       senderRepo,
		TaskRepo:         taskRepo,
		GmailProvider:    gmailProvider,
		CalendarProvider: calendarProvider,
		AllowlistService: allowService,
		ContactService:   contactService,
		TriageService:    triageService,
		IngestService:    ingestService,
		ScheduleService:  scheduleService,
		Sweeper:          sweeper,
	}
	return deps, cleanup, nil
}

// HealthCheck pings the backing stores.
func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
