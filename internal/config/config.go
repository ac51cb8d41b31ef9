package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arcade-backend/internal/domain"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig                   `yaml:"server"`
	Log      LogConfig                      `yaml:"log"`
	Store    StoreConfig                    `yaml:"store"`
	Redis    RedisConfig                    `yaml:"redis"`
	Postgres PostgresConfig                 `yaml:"postgres"`
	Kafka    KafkaConfig                    `yaml:"kafka"`
	Game     GameConfig                     `yaml:"game"`
	Quota    QuotaConfig                    `yaml:"quota"`
	Detector DetectorConfig                 `yaml:"detector"`
	Schedule ScheduleConfig                 `yaml:"schedule"`
	Verify   VerifyConfig                   `yaml:"verify"`
	Products map[string]domain.RewardBundle `yaml:"products"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level name to a slog level
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreConfig selects the durable store implementation
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers            []string      `yaml:"brokers"`
	Topic              string        `yaml:"topic"`
	NotificationsTopic string        `yaml:"notifications_topic"`
	GroupID            string        `yaml:"group_id"`
	Enabled            bool          `yaml:"enabled"`
	RetryAttempts      int           `yaml:"retry_attempts"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	HandlerTimeout     time.Duration `yaml:"handler_timeout"`
}

// GameConfig holds the tunable validation and leaderboard constants
type GameConfig struct {
	MaxSubmissionsPerMinute       int           `yaml:"max_submissions_per_minute"`
	MaxPurchaseValidationsPerHour int           `yaml:"max_purchase_validations_per_hour"`
	MaxReasonableScore            int64         `yaml:"max_reasonable_score"`
	MinGameDuration               time.Duration `yaml:"min_game_duration"`
	MaxImprovementRatio           float64       `yaml:"max_improvement_ratio"`
	RecentHistorySize             int           `yaml:"recent_history_size"`
	MaxEntriesPerScope            int           `yaml:"max_entries_per_scope"`
	BatchSize                     int           `yaml:"batch_size"`
	TournamentParticipantCap      int           `yaml:"tournament_participant_cap"`
	DailyRetention                time.Duration `yaml:"daily_retention"`
	WeeklyRetention               time.Duration `yaml:"weekly_retention"`
	MaxFriendFanout               int           `yaml:"max_friend_fanout"`
	BroadcastTopN                 int           `yaml:"broadcast_top_n"`
	// PendingGracePeriod is how long a submission or receipt may stay
	// pending before the reprocess jobs pick it up
	PendingGracePeriod time.Duration `yaml:"pending_grace_period"`
}

// QuotaConfig describes the platform operation quota shared by batch jobs
type QuotaConfig struct {
	DailyOperations   int `yaml:"daily_operations"`
	InvocationsPerDay int `yaml:"invocations_per_day"`
}

// PerInvocation returns the operation cap of a single job invocation
func (q QuotaConfig) PerInvocation() int {
	if q.InvocationsPerDay <= 0 {
		return q.DailyOperations
	}
	return q.DailyOperations / q.InvocationsPerDay
}

// DetectorConfig holds suspicious activity heuristics
type DetectorConfig struct {
	Window            time.Duration `yaml:"window"`
	MinScores         int           `yaml:"min_scores"`
	RecentScores      int           `yaml:"recent_scores"`
	RepeatThreshold   int           `yaml:"repeat_threshold"`
	HighScoreFraction float64       `yaml:"high_score_fraction"`
}

// ScheduleConfig holds cron expressions of the timer-driven jobs
type ScheduleConfig struct {
	Enabled           bool   `yaml:"enabled"`
	RunOnStart        bool   `yaml:"run_on_start"`
	RecomputeRanks    string `yaml:"recompute_ranks"`
	Cleanup           string `yaml:"cleanup"`
	DetectSuspicious  string `yaml:"detect_suspicious"`
	DailyReport       string `yaml:"daily_report"`
	ReprocessErrored  string `yaml:"reprocess_errored"`
	ReprocessReceipts string `yaml:"reprocess_receipts"`
	SettleTournaments string `yaml:"settle_tournaments"`
}

// Specs maps each job to its cron expression
func (s ScheduleConfig) Specs() map[domain.Job]string {
	return map[domain.Job]string{
		domain.JobRecomputeRanks:    s.RecomputeRanks,
		domain.JobCleanup:           s.Cleanup,
		domain.JobDetectSuspicious:  s.DetectSuspicious,
		domain.JobDailyReport:       s.DailyReport,
		domain.JobReprocessErrored:  s.ReprocessErrored,
		domain.JobReprocessReceipts: s.ReprocessReceipts,
		domain.JobSettleTournaments: s.SettleTournaments,
	}
}

// VerifyConfig holds platform receipt verification endpoints
type VerifyConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	AppleURL          string        `yaml:"apple_url"`
	AppleSandboxURL   string        `yaml:"apple_sandbox_url"`
	AppleSharedSecret string        `yaml:"apple_shared_secret"`
	GoogleBaseURL     string        `yaml:"google_base_url"`
	GoogleAccessToken string        `yaml:"google_access_token"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Game.BatchSize > c.Quota.PerInvocation() {
		return fmt.Errorf("batch size %d exceeds per-invocation quota %d", c.Game.BatchSize, c.Quota.PerInvocation())
	}
	if c.Game.MaxImprovementRatio < 1 {
		return fmt.Errorf("max improvement ratio must be at least 1, got %v", c.Game.MaxImprovementRatio)
	}
	for id, bundle := range c.Products {
		if len(bundle) == 0 {
			return fmt.Errorf("product %q has no rewards", id)
		}
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "postgres"
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "game-events"
	}
	if c.Kafka.NotificationsTopic == "" {
		c.Kafka.NotificationsTopic = "push-notifications"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "game-backend"
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}
	if c.Kafka.HandlerTimeout == 0 {
		c.Kafka.HandlerTimeout = 5 * time.Minute
	}

	// Game defaults
	if c.Game.MaxSubmissionsPerMinute == 0 {
		c.Game.MaxSubmissionsPerMinute = 10
	}
	if c.Game.MaxPurchaseValidationsPerHour == 0 {
		c.Game.MaxPurchaseValidationsPerHour = 20
	}
	if c.Game.MaxReasonableScore == 0 {
		c.Game.MaxReasonableScore = 1_000_000
	}
	if c.Game.MinGameDuration == 0 {
		c.Game.MinGameDuration = 10 * time.Second
	}
	if c.Game.MaxImprovementRatio == 0 {
		c.Game.MaxImprovementRatio = 100
	}
	if c.Game.RecentHistorySize == 0 {
		c.Game.RecentHistorySize = 10
	}
	if c.Game.MaxEntriesPerScope == 0 {
		c.Game.MaxEntriesPerScope = 1000
	}
	if c.Game.BatchSize == 0 {
		c.Game.BatchSize = 400
	}
	if c.Game.TournamentParticipantCap == 0 {
		c.Game.TournamentParticipantCap = 100
	}
	if c.Game.DailyRetention == 0 {
		c.Game.DailyRetention = 30 * 24 * time.Hour
	}
	if c.Game.WeeklyRetention == 0 {
		c.Game.WeeklyRetention = 12 * 7 * 24 * time.Hour
	}
	if c.Game.MaxFriendFanout == 0 {
		c.Game.MaxFriendFanout = 50
	}
	if c.Game.BroadcastTopN == 0 {
		c.Game.BroadcastTopN = 10
	}
	if c.Game.PendingGracePeriod == 0 {
		c.Game.PendingGracePeriod = 10 * time.Minute
	}

	// Quota defaults
	if c.Quota.DailyOperations == 0 {
		c.Quota.DailyOperations = 20_000
	}
	if c.Quota.InvocationsPerDay == 0 {
		c.Quota.InvocationsPerDay = 48
	}

	// Detector defaults
	if c.Detector.Window == 0 {
		c.Detector.Window = 1 * time.Hour
	}
	if c.Detector.MinScores == 0 {
		c.Detector.MinScores = 2
	}
	if c.Detector.RecentScores == 0 {
		c.Detector.RecentScores = 20
	}
	if c.Detector.RepeatThreshold == 0 {
		c.Detector.RepeatThreshold = 5
	}
	if c.Detector.HighScoreFraction == 0 {
		c.Detector.HighScoreFraction = 0.8
	}

	// Schedule defaults
	if c.Schedule.RecomputeRanks == "" {
		c.Schedule.RecomputeRanks = "*/30 * * * *"
	}
	if c.Schedule.Cleanup == "" {
		c.Schedule.Cleanup = "0 3 * * *"
	}
	if c.Schedule.DetectSuspicious == "" {
		c.Schedule.DetectSuspicious = "*/30 * * * *"
	}
	if c.Schedule.DailyReport == "" {
		c.Schedule.DailyReport = "5 0 * * *"
	}
	if c.Schedule.ReprocessErrored == "" {
		c.Schedule.ReprocessErrored = "0 * * * *"
	}
	if c.Schedule.ReprocessReceipts == "" {
		c.Schedule.ReprocessReceipts = "15 * * * *"
	}
	if c.Schedule.SettleTournaments == "" {
		c.Schedule.SettleTournaments = "*/10 * * * *"
	}

	// Verify defaults
	if c.Verify.Timeout == 0 {
		c.Verify.Timeout = 10 * time.Second
	}
	if c.Verify.AppleURL == "" {
		c.Verify.AppleURL = "https://buy.itunes.apple.com/verifyReceipt"
	}
	if c.Verify.AppleSandboxURL == "" {
		c.Verify.AppleSandboxURL = "https://sandbox.itunes.apple.com/verifyReceipt"
	}
	if c.Verify.GoogleBaseURL == "" {
		c.Verify.GoogleBaseURL = "https://androidpublisher.googleapis.com/androidpublisher/v3"
	}

	if len(c.Products) == 0 {
		c.Products = map[string]domain.RewardBundle{
			"coins_small":  {{Currency: "coins", Amount: 1000}},
			"coins_medium": {{Currency: "coins", Amount: 5500}},
			"coins_large":  {{Currency: "coins", Amount: 12000}},
			"gems_pack":    {{Currency: "gems", Amount: 100}},
		}
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Schedule.Enabled = true
	return cfg
}
