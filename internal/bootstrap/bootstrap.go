package bootstrap

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/repository"
	"github.com/noah-isme/sma-timetable-api/internal/scheduler"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	"github.com/noah-isme/sma-timetable-api/pkg/cache"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
	"github.com/noah-isme/sma-timetable-api/pkg/database"
	"github.com/noah-isme/sma-timetable-api/pkg/events"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
	"github.com/noah-isme/sma-timetable-api/pkg/lock"
)

const proposalKeyPrefix = "timetable:proposal:"

// Services is the wired service graph shared by the HTTP gateway and the operator CLI.
type Services struct {
	DB      *sqlx.DB
	Redis   *redis.Client
	Metrics *service.MetricsService
	Events  *events.Publisher

	Timetables   *service.TimetableService
	RoomStatus   *service.RoomStatusService
	Regeneration *service.RegenerationService
	AuditTrail   *service.AuditTrailService

	logger *zap.Logger
}

// GridConfig maps scheduler settings onto the period grid.
func GridConfig(cfg config.SchedulerConfig) scheduler.GridConfig {
	grid := scheduler.DefaultGridConfig()
	if cfg.Days > 0 {
		grid.Days = cfg.Days
	}
	if cfg.Periods > 0 {
		grid.Periods = cfg.Periods
	}
	if cfg.BreakPeriod >= 0 {
		grid.BreakPeriod = cfg.BreakPeriod
	}
	if cfg.LunchPeriod >= 0 {
		grid.LunchPeriod = cfg.LunchPeriod
	}
	if cfg.MaxConsecutive > 0 {
		grid.MaxConsecutive = cfg.MaxConsecutive
	}
	if cfg.DayStart != "" {
		grid.DayStart = cfg.DayStart
	}
	if cfg.PeriodMinutes > 0 {
		grid.PeriodMinutes = cfg.PeriodMinutes
	}
	if cfg.BreakMinutes > 0 {
		grid.BreakMinutes = cfg.BreakMinutes
	}
	if cfg.LunchMinutes > 0 {
		grid.LunchMinutes = cfg.LunchMinutes
	}
	return grid
}

// Build connects to Postgres (and Redis when enabled) and wires every service.
// A Redis outage degrades to in-process locking, caching and log-only events.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, falling back to in-process coordination", zap.Error(err))
			redisClient = nil
		}
	}

	var (
		locker    lock.Locker
		proposals service.ProposalCache
		sink      events.Sink
	)
	if redisClient != nil {
		locker = lock.NewRedisLocker(redisClient, cfg.Lock.TTL, cfg.Lock.Wait, logger)
		proposals = repository.NewCacheRepository(redisClient, proposalKeyPrefix, logger)
		sink = events.NewRedisSink(redisClient)
	} else {
		locker = lock.NewLocalLocker(cfg.Lock.Wait)
		proposals = service.NewMemoryProposalCache()
		sink = events.NewLogSink(logger)
	}

	publisher := events.NewPublisher(sink, cfg.Events.Channel, jobs.QueueConfig{
		Workers:    cfg.Events.Workers,
		MaxRetries: cfg.Events.Retries,
		Logger:     logger,
	})
	publisher.Start(context.Background())

	metrics := service.NewMetricsService()
	validate := validator.New()
	grid := GridConfig(cfg.Scheduler)

	catalog := repository.NewCatalogRepository(db)
	rooms := repository.NewRoomRepository(db)
	timetables := repository.NewTimetableRepository(db)
	conflicts := repository.NewConflictRepository(db)
	audit := repository.NewRoomAuditRepository(db)

	timetableSvc, err := service.NewTimetableService(catalog, rooms, timetables, proposals, locker, db, metrics, validate, logger,
		service.TimetableServiceConfig{Grid: grid, ProposalTTL: cfg.Scheduler.ProposalTTL, SuggestionLimit: cfg.Scheduler.SuggestionLimit})
	if err != nil {
		publisher.Stop()
		_ = db.Close()
		return nil, fmt.Errorf("build timetable service: %w", err)
	}

	auditTrail := service.NewAuditTrailService(audit, timetables, cfg.Audit.Retention, validate, logger)
	regen, err := service.NewRegenerationService(conflicts, timetables, catalog, rooms, auditTrail, locker, db, publisher, metrics, validate, logger,
		service.RegenerationConfig{Grid: grid, SuggestionLimit: cfg.Scheduler.SuggestionLimit})
	if err != nil {
		publisher.Stop()
		_ = db.Close()
		return nil, fmt.Errorf("build regeneration service: %w", err)
	}

	detector := service.NewConflictDetector(timetables, conflicts, publisher, metrics, logger)

	return &Services{
		DB:           db,
		Redis:        redisClient,
		Metrics:      metrics,
		Events:       publisher,
		Timetables:   timetableSvc,
		RoomStatus:   service.NewRoomStatusService(rooms, detector, db, validate, logger),
		Regeneration: regen,
		AuditTrail:   auditTrail,
		logger:       logger,
	}, nil
}

// Close flushes pending events and releases connections.
func (s *Services) Close() {
	if s.Events != nil {
		s.Events.Stop()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.logger.Warn("close redis", zap.Error(err))
		}
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			s.logger.Warn("close postgres", zap.Error(err))
		}
	}
}
