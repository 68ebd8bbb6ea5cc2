package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort     string
	JWTSecret   string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Action token protocol
	ActionTokenSecret string
	ActionTokenTTLSec int
	ScoreIncrement    int
	ActionTypes       []string
	// Anti-cheat bounds
	CompletionMinMs int
	CompletionMaxMs int
	RateWindowMs    int
	RateMaxActions  int
	// Leaderboard / broadcast
	LeaderboardTopN     int
	BroadcastIntervalMs int
	// HTTP layer
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Redis for leaderboard/token state
	RedisEnabled  bool
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: config/config.json -> defaults -> environment variable overrides
	_ = loadJSONConfig(filepath.Join("config", "config.json"), &cfg)

	applyDefaults(&cfg)

	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}
	if cfg.ActionTokenSecret == "" {
		// Reuse the session secret when a dedicated one is not provided.
		cfg.ActionTokenSecret = cfg.JWTSecret
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads JSON file into cfg if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	dec := json.NewDecoder(f)
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	getString := func(key string) string {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(key string) int {
		if v, ok := raw[key]; ok {
			switch n := v.(type) {
			case float64:
				return int(n)
			case string:
				if i, err := strconv.Atoi(n); err == nil {
					return i
				}
			}
		}
		return 0
	}
	getBool := func(key string) bool {
		if v, ok := raw[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
		return false
	}
	getList := func(key string) []string {
		if v, ok := raw[key]; ok {
			switch items := v.(type) {
			case []any:
				var list []string
				for _, it := range items {
					if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
						list = append(list, strings.TrimSpace(s))
					}
				}
				return list
			case string:
				return splitList(items)
			}
		}
		return nil
	}

	out.AppPort = getString("app_port")
	out.JWTSecret = getString("jwt_secret")
	out.DatabaseURI = getString("database_uri")
	out.DBHost = getString("db_host")
	out.DBPort = getString("db_port")
	out.DBUser = getString("db_user")
	out.DBPassword = getString("db_password")
	out.DBName = getString("db_name")
	out.ActionTokenSecret = getString("action_token_secret")
	out.ActionTokenTTLSec = getInt("action_token_ttl_sec")
	out.ScoreIncrement = getInt("score_increment")
	out.ActionTypes = getList("action_types")
	out.CompletionMinMs = getInt("completion_min_ms")
	out.CompletionMaxMs = getInt("completion_max_ms")
	out.RateWindowMs = getInt("rate_window_ms")
	out.RateMaxActions = getInt("rate_max_actions")
	out.LeaderboardTopN = getInt("leaderboard_top_n")
	out.BroadcastIntervalMs = getInt("broadcast_interval_ms")
	out.RateLimitPerMinute = getInt("rate_limit_per_minute")
	out.AllowedOrigins = getList("allowed_origins")
	out.GinMode = getString("gin_mode")
	out.GinPath = getString("gin_path")
	out.RedisEnabled = getBool("redis_enabled")
	out.RedisHost = getString("redis_host")
	out.RedisPort = getInt("redis_port")
	out.RedisDB = getInt("redis_db")
	out.RedisPassword = getString("redis_password")
	out.LogLevel = getString("log_level")
	out.LogPath = getString("log_path")
	out.LogMaxSizeMB = getInt("log_max_size_mb")
	out.LogMaxBackups = getInt("log_max_backups")
	out.LogMaxAgeDays = getInt("log_max_age_days")
	out.LogCompress = getBool("log_compress")

	return nil
}

func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "liveboard"
	}
	if c.DBName == "" {
		c.DBName = "liveboard"
	}
	if c.ActionTokenTTLSec == 0 {
		c.ActionTokenTTLSec = 300
	}
	if c.ScoreIncrement == 0 {
		c.ScoreIncrement = 10
	}
	if len(c.ActionTypes) == 0 {
		c.ActionTypes = []string{"quiz", "match", "daily"}
	}
	if c.CompletionMinMs == 0 {
		c.CompletionMinMs = 1000
	}
	if c.CompletionMaxMs == 0 {
		c.CompletionMaxMs = 300000
	}
	if c.RateWindowMs == 0 {
		c.RateWindowMs = 60000
	}
	if c.RateMaxActions == 0 {
		c.RateMaxActions = 10
	}
	if c.LeaderboardTopN == 0 {
		c.LeaderboardTopN = 10
	}
	if c.BroadcastIntervalMs == 0 {
		c.BroadcastIntervalMs = 1000
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/gin.log"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogPath == "" {
		c.LogPath = "logs/app.log"
	}
}

func applyEnvOverrides(c *AppConfig) {
	c.AppPort = getEnv("APP_PORT", c.AppPort)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.DatabaseURI = getEnv("DATABASE_URI", c.DatabaseURI)
	c.DBHost = getEnv("DB_HOST", c.DBHost)
	c.DBPort = getEnv("DB_PORT", c.DBPort)
	c.DBUser = getEnv("DB_USER", c.DBUser)
	c.DBPassword = getEnv("DB_PASSWORD", c.DBPassword)
	c.DBName = getEnv("DB_NAME", c.DBName)
	c.ActionTokenSecret = getEnv("ACTION_TOKEN_SECRET", c.ActionTokenSecret)
	c.ActionTokenTTLSec = getEnvInt("ACTION_TOKEN_TTL_SEC", c.ActionTokenTTLSec)
	c.ScoreIncrement = getEnvInt("SCORE_INCREMENT", c.ScoreIncrement)
	if v := os.Getenv("ACTION_TYPES"); v != "" {
		c.ActionTypes = splitList(v)
	}
	c.CompletionMinMs = getEnvInt("COMPLETION_MIN_MS", c.CompletionMinMs)
	c.CompletionMaxMs = getEnvInt("COMPLETION_MAX_MS", c.CompletionMaxMs)
	c.RateWindowMs = getEnvInt("RATE_WINDOW_MS", c.RateWindowMs)
	c.RateMaxActions = getEnvInt("RATE_MAX_ACTIONS", c.RateMaxActions)
	c.LeaderboardTopN = getEnvInt("LEADERBOARD_TOP_N", c.LeaderboardTopN)
	c.BroadcastIntervalMs = getEnvInt("BROADCAST_INTERVAL_MS", c.BroadcastIntervalMs)
	c.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	c.GinMode = getEnv("GIN_MODE", c.GinMode)
	c.GinPath = getEnv("GIN_PATH", c.GinPath)
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		c.RedisEnabled = v == "1" || strings.EqualFold(v, "true")
	}
	c.RedisHost = getEnv("REDIS_HOST", c.RedisHost)
	c.RedisPort = getEnvInt("REDIS_PORT", c.RedisPort)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogPath = getEnv("LOG_PATH", c.LogPath)
	c.LogMaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", c.LogMaxSizeMB)
	c.LogMaxBackups = getEnvInt("LOG_MAX_BACKUPS", c.LogMaxBackups)
	c.LogMaxAgeDays = getEnvInt("LOG_MAX_AGE_DAYS", c.LogMaxAgeDays)
	if v := os.Getenv("LOG_COMPRESS"); v != "" {
		c.LogCompress = v == "1" || strings.EqualFold(v, "true")
	}
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	var out []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
