package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	LLMBaseURL    string        `mapstructure:"LLM_BASE_URL"`
	LLMAPIKey     string        `mapstructure:"LLM_API_KEY"`
	LLMModel      string        `mapstructure:"LLM_MODEL"`
	PolicyTimeout time.Duration `mapstructure:"POLICY_TIMEOUT"`
	MaxToolRounds int           `mapstructure:"MAX_TOOL_ROUNDS"`
	TurnLockTTL   time.Duration `mapstructure:"TURN_LOCK_TTL"`

	SlotMinutes       int    `mapstructure:"SLOT_MINUTES"`
	BusinessStartHour int    `mapstructure:"BUSINESS_START_HOUR"`
	BusinessEndHour   int    `mapstructure:"BUSINESS_END_HOUR"`
	MaxSlots          int    `mapstructure:"MAX_SLOTS"`
	ClinicTimezone    string `mapstructure:"CLINIC_TIMEZONE"`

	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	OpenAQBaseURL string `mapstructure:"OPENAQ_BASE_URL"`
	OpenAQAPIKey  string `mapstructure:"OPENAQ_API_KEY"`
	SurgeCity     string `mapstructure:"SURGE_CITY"`
	SurgeRunHour  int    `mapstructure:"SURGE_RUN_HOUR"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL", "POLICY_TIMEOUT", "MAX_TOOL_ROUNDS", "TURN_LOCK_TTL",
	"SLOT_MINUTES", "BUSINESS_START_HOUR", "BUSINESS_END_HOUR", "MAX_SLOTS", "CLINIC_TIMEZONE",
	"AUTH_SIGNING_KEY", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"OPENAQ_BASE_URL", "OPENAQ_API_KEY", "SURGE_CITY", "SURGE_RUN_HOUR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("KAFKA_TOPIC", "aura.events")
	v.SetDefault("LLM_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")
	v.SetDefault("POLICY_TIMEOUT", "30s")
	v.SetDefault("MAX_TOOL_ROUNDS", 5)
	v.SetDefault("TURN_LOCK_TTL", "2m")
	v.SetDefault("SLOT_MINUTES", 30)
	v.SetDefault("BUSINESS_START_HOUR", 9)
	v.SetDefault("BUSINESS_END_HOUR", 17)
	v.SetDefault("MAX_SLOTS", 10)
	v.SetDefault("CLINIC_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("SURGE_CITY", "Delhi")
	v.SetDefault("SURGE_RUN_HOUR", 2)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware accepts X-User-ID / X-User-Role headers without a token.")
	}

	return cfg, nil
}

// splitList normalises comma-separated env values. The decoder may or may
// not have split the value already; either way entries are trimmed and
// empties dropped.
func splitList(decoded []string, raw string) []string {
	if len(decoded) > 0 {
		raw = strings.Join(decoded, ",")
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves CLINIC_TIMEZONE. Business hours and date parsing are
// interpreted in this zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("load CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
		}
		if c.LLMAPIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required when ENV=%q", c.Env)
		}
	}
	if c.SlotMinutes <= 0 || 60%c.SlotMinutes != 0 {
		return fmt.Errorf("SLOT_MINUTES must divide 60, got %d", c.SlotMinutes)
	}
	if c.BusinessStartHour < 0 || c.BusinessEndHour > 24 || c.BusinessStartHour >= c.BusinessEndHour {
		return fmt.Errorf("business hours must satisfy 0 <= start < end <= 24, got [%d,%d)",
			c.BusinessStartHour, c.BusinessEndHour)
	}
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("MAX_TOOL_ROUNDS must be at least 1, got %d", c.MaxToolRounds)
	}
	if c.MaxSlots < 1 {
		return fmt.Errorf("MAX_SLOTS must be at least 1, got %d", c.MaxSlots)
	}
	if c.PolicyTimeout <= 0 {
		return fmt.Errorf("POLICY_TIMEOUT must be positive")
	}
	if c.SurgeRunHour < 0 || c.SurgeRunHour > 23 {
		return fmt.Errorf("SURGE_RUN_HOUR must be in [0,23], got %d", c.SurgeRunHour)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
