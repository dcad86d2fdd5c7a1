package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Lock      LockConfig
	Events    EventsConfig
	Audit     AuditConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig shapes the weekly grid and generator behaviour.
type SchedulerConfig struct {
	ProposalTTL     time.Duration
	Days            int
	Periods         int
	BreakPeriod     int
	LunchPeriod     int
	MaxConsecutive  int
	DayStart        string
	PeriodMinutes   int
	BreakMinutes    int
	LunchMinutes    int
	SuggestionLimit int
}

// LockConfig tunes the single-writer lock used for timetables and conflicts.
type LockConfig struct {
	TTL  time.Duration
	Wait time.Duration
}

// EventsConfig configures domain event fan-out.
type EventsConfig struct {
	Channel string
	Workers int
	Retries int
}

// AuditConfig controls room audit retention.
type AuditConfig struct {
	Retention time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduler = SchedulerConfig{
		ProposalTTL:     parseDuration(v.GetString("SCHEDULER_PROPOSAL_TTL"), 30*time.Minute),
		Days:            v.GetInt("SCHEDULER_DAYS"),
		Periods:         v.GetInt("SCHEDULER_PERIODS"),
		BreakPeriod:     v.GetInt("SCHEDULER_BREAK_PERIOD"),
		LunchPeriod:     v.GetInt("SCHEDULER_LUNCH_PERIOD"),
		MaxConsecutive:  v.GetInt("SCHEDULER_MAX_CONSECUTIVE"),
		DayStart:        v.GetString("SCHEDULER_DAY_START"),
		PeriodMinutes:   v.GetInt("SCHEDULER_PERIOD_MINUTES"),
		BreakMinutes:    v.GetInt("SCHEDULER_BREAK_MINUTES"),
		LunchMinutes:    v.GetInt("SCHEDULER_LUNCH_MINUTES"),
		SuggestionLimit: v.GetInt("SCHEDULER_SUGGESTION_LIMIT"),
	}

	cfg.Lock = LockConfig{
		TTL:  parseDuration(v.GetString("LOCK_TTL"), 30*time.Second),
		Wait: parseDuration(v.GetString("LOCK_WAIT"), 5*time.Second),
	}

	cfg.Events = EventsConfig{
		Channel: v.GetString("EVENTS_CHANNEL"),
		Workers: v.GetInt("EVENTS_WORKERS"),
		Retries: v.GetInt("EVENTS_RETRIES"),
	}

	cfg.Audit = AuditConfig{
		Retention: parseDuration(v.GetString("AUDIT_RETENTION"), 0),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "timetable")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULER_PROPOSAL_TTL", "30m")
	v.SetDefault("SCHEDULER_DAYS", 6)
	v.SetDefault("SCHEDULER_PERIODS", 8)
	v.SetDefault("SCHEDULER_BREAK_PERIOD", 3)
	v.SetDefault("SCHEDULER_LUNCH_PERIOD", 5)
	v.SetDefault("SCHEDULER_MAX_CONSECUTIVE", 3)
	v.SetDefault("SCHEDULER_DAY_START", "08:00")
	v.SetDefault("SCHEDULER_PERIOD_MINUTES", 50)
	v.SetDefault("SCHEDULER_BREAK_MINUTES", 15)
	v.SetDefault("SCHEDULER_LUNCH_MINUTES", 45)
	v.SetDefault("SCHEDULER_SUGGESTION_LIMIT", 10)

	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("LOCK_WAIT", "5s")

	v.SetDefault("EVENTS_CHANNEL", "timetable.events")
	v.SetDefault("EVENTS_WORKERS", 1)
	v.SetDefault("EVENTS_RETRIES", 3)

	v.SetDefault("AUDIT_RETENTION", "")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
