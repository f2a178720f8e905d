package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Tracing     TracingConfig `mapstructure:"tracing"`
	Redis       RedisConfig
	CORS        CORSConfig        `mapstructure:"cors"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Progression ProgressionConfig `mapstructure:"progression"`
	Strava      StravaConfig      `mapstructure:"strava"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Missions    []MissionConfig   `mapstructure:"missions"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	// Driver 为 mysql 或 memory，memory 仅用于本地调试
	Driver    string
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// ProgressionConfig 经验值、每日上限与公会相关的可调参数
type ProgressionConfig struct {
	FootXPPerMeter   float64 `mapstructure:"foot_xp_per_meter"`
	WheelXPPerMeter  float64 `mapstructure:"wheel_xp_per_meter"`
	StudyXPPerMinute int     `mapstructure:"study_xp_per_minute"`
	StudyDailyCap    int     `mapstructure:"study_daily_cap"`
	GuildMaxMembers  int     `mapstructure:"guild_max_members"`

	// Timezone 决定"今天"的日历边界（每日重置与连续签到）
	Timezone string `mapstructure:"timezone"`
}

// Location 解析配置的时区，无效时回退到 UTC
func (p ProgressionConfig) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type StravaConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
	Scope        string `mapstructure:"scope"`
	AuthorizeURL string `mapstructure:"authorize_url"`
	TokenURL     string `mapstructure:"token_url"`
	APIBaseURL   string `mapstructure:"api_base_url"`

	SyncCooldown            time.Duration `mapstructure:"sync_cooldown"`
	SyncLockTTL             time.Duration `mapstructure:"sync_lock_ttl"`
	RefreshLeeway           time.Duration `mapstructure:"refresh_leeway"`
	RequestTimeout          time.Duration `mapstructure:"request_timeout"`
	RetryBackoff            time.Duration `mapstructure:"retry_backoff"`
	MaxRetries              uint64        `mapstructure:"max_retries"`
	PageSize                int           `mapstructure:"page_size"`
	MaxPages                int           `mapstructure:"max_pages"`
	ResetCursorOnDisconnect bool          `mapstructure:"reset_cursor_on_disconnect"`
	TokenEncryptionKey      string        `mapstructure:"token_encryption_key"`
}

// Configured 判断是否配置了服务端持有的客户端凭证
func (s StravaConfig) Configured() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// syncFlagMargin 留给入账与写入冷却的余量
const syncFlagMargin = 30 * time.Second

// SyncFlagTTL 同步标志的有效期：SyncLockTTL 为下限，
// 并覆盖一次刷新令牌加 MaxPages 次拉取在超时与重试都用尽时的总耗时
func (s StravaConfig) SyncFlagTTL() time.Duration {
	attempts := time.Duration(s.MaxRetries + 1)
	perRequest := attempts*s.RequestTimeout + time.Duration(s.MaxRetries)*s.RetryBackoff
	worst := time.Duration(s.MaxPages+1)*perRequest + syncFlagMargin
	if s.SyncLockTTL > worst {
		return s.SyncLockTTL
	}
	return worst
}

type LeaderboardConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// MissionConfig 任务目录中的一项，奖励只由服务端决定
type MissionConfig struct {
	ID          string `mapstructure:"id" json:"id"`
	Title       string `mapstructure:"title" json:"title"`
	Description string `mapstructure:"description" json:"description,omitempty"`
	Rank        string `mapstructure:"rank" json:"rank"`
	XPReward    int64  `mapstructure:"xp_reward" json:"xpReward"`
	GoldReward  int64  `mapstructure:"gold_reward" json:"goldReward"`
}

// DefaultMissions 配置文件未声明任务时使用
func DefaultMissions() []MissionConfig {
	return []MissionConfig{
		{ID: "morning-walk", Title: "Morning Walk", Description: "Walk for at least 20 minutes", Rank: "F", XPReward: 30, GoldReward: 10},
		{ID: "read-chapter", Title: "Read a Chapter", Description: "Finish one chapter of any book", Rank: "E", XPReward: 50, GoldReward: 15},
		{ID: "hydrate", Title: "Hydration Quest", Description: "Drink eight glasses of water", Rank: "F", XPReward: 20, GoldReward: 5},
		{ID: "deep-work", Title: "Deep Work", Description: "Two focused hours without distractions", Rank: "C", XPReward: 120, GoldReward: 40},
	}
}

func validateMissions(missions []MissionConfig) error {
	seen := make(map[string]struct{}, len(missions))
	for _, m := range missions {
		if m.ID == "" {
			return fmt.Errorf("missions: every mission needs an id")
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("missions: duplicate id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.XPReward < 0 || m.GoldReward < 0 {
			return fmt.Errorf("missions: rewards of %q must not be negative", m.ID)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("rate_limit.max_requests", 600)
	v.SetDefault("rate_limit.window_minutes", 1)

	v.SetDefault("progression.foot_xp_per_meter", 0.27)
	v.SetDefault("progression.wheel_xp_per_meter", 0.09)
	v.SetDefault("progression.study_xp_per_minute", 7)
	v.SetDefault("progression.study_daily_cap", 1500)
	v.SetDefault("progression.guild_max_members", 6)
	v.SetDefault("progression.timezone", "UTC")

	v.SetDefault("strava.scope", "activity:read_all")
	v.SetDefault("strava.authorize_url", "https://www.strava.com/oauth/authorize")
	v.SetDefault("strava.token_url", "https://www.strava.com/oauth/token")
	v.SetDefault("strava.api_base_url", "https://www.strava.com/api/v3")
	v.SetDefault("strava.sync_cooldown", 5*time.Minute)
	v.SetDefault("strava.sync_lock_ttl", time.Minute)
	v.SetDefault("strava.refresh_leeway", time.Minute)
	v.SetDefault("strava.request_timeout", 10*time.Second)
	v.SetDefault("strava.retry_backoff", 500*time.Millisecond)
	v.SetDefault("strava.max_retries", 1)
	v.SetDefault("strava.page_size", 30)
	v.SetDefault("strava.max_pages", 5)

	v.SetDefault("leaderboard.cache_ttl", time.Minute)
}

// Defaults 返回未读取任何配置文件时的默认配置
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.Missions = DefaultMissions()
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	// .env 文件可选
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("HABITQUEST")
	v.AutomaticEnv()
	setDefaults(v)

	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")

	// Strava
	v.BindEnv("strava.client_id", "STRAVA_CLIENT_ID")
	v.BindEnv("strava.client_secret", "STRAVA_CLIENT_SECRET")
	v.BindEnv("strava.redirect_uri", "STRAVA_REDIRECT_URI")
	v.BindEnv("strava.token_encryption_key", "STRAVA_TOKEN_KEY")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if cfg.Progression.StudyDailyCap <= 0 {
		return nil, fmt.Errorf("progression.study_daily_cap must be positive, got %d", cfg.Progression.StudyDailyCap)
	}

	if cfg.Progression.GuildMaxMembers <= 0 {
		return nil, fmt.Errorf("progression.guild_max_members must be positive, got %d", cfg.Progression.GuildMaxMembers)
	}

	if len(cfg.Missions) == 0 {
		cfg.Missions = DefaultMissions()
	}
	if err := validateMissions(cfg.Missions); err != nil {
		return nil, err
	}

	return &cfg, nil
}
