package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Agora/internal/domain"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	LogLevel      string        `mapstructure:"log_level"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	PongWait      time.Duration `mapstructure:"pong_wait"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	Backpressure  string        `mapstructure:"backpressure"`
	Secret        string        `mapstructure:"secret"`
	InternalToken string        `mapstructure:"internal_token"`

	Auth      AuthConfig      `mapstructure:"auth"`
	Store     StoreConfig     `mapstructure:"store"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Sessions  []SessionConfig `mapstructure:"sessions"`
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AllowAnonymous bool          `mapstructure:"allow_anonymous"`
	Leeway         time.Duration `mapstructure:"leeway"`
}

type StoreConfig struct {
	Driver    string        `mapstructure:"driver"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	RedisTTL  time.Duration `mapstructure:"redis_ttl"`
}

type ChatConfig struct {
	MaxContentLen  int           `mapstructure:"max_content_len"`
	MaxAttachments int           `mapstructure:"max_attachments"`
	RateLimit      int           `mapstructure:"rate_limit"`
	RateInterval   time.Duration `mapstructure:"rate_interval"`
}

type DirectoryConfig struct {
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// AccountConfig seeds the in-process directory.
type AccountConfig struct {
	ID            string   `mapstructure:"id"`
	Kind          string   `mapstructure:"kind"`
	Name          string   `mapstructure:"name"`
	CommunityID   string   `mapstructure:"community_id"`
	Suspended     bool     `mapstructure:"suspended"`
	Communities   []string `mapstructure:"communities"`
	Conversations []string `mapstructure:"conversations"`
}

// SessionConfig declares a live session at startup.
type SessionConfig struct {
	ID          string `mapstructure:"id"`
	CommunityID string `mapstructure:"community_id"`
}

// DomainAccounts converts the seeded accounts into domain accounts.
func (d DirectoryConfig) DomainAccounts() ([]domain.Account, error) {
	out := make([]domain.Account, 0, len(d.Accounts))
	for _, a := range d.Accounts {
		kind, err := domain.ParseIdentityKind(a.Kind)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", a.ID, err)
		}
		acc := domain.Account{
			ID:            domain.IdentityID(a.ID),
			Kind:          kind,
			DisplayName:   a.Name,
			CommunityID:   domain.CommunityID(a.CommunityID),
			Suspended:     a.Suspended,
			Conversations: a.Conversations,
		}
		for _, c := range a.Communities {
			acc.Communities = append(acc.Communities, domain.CommunityID(c))
		}
		out = append(out, acc)
	}
	return out, nil
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("AGORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store.Driver).Bool("anonymous", cfg.Auth.AllowAnonymous).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("backpressure", "kick")
	// env overrides only apply to keys viper already knows
	v.SetDefault("secret", "")
	v.SetDefault("internal_token", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.allow_anonymous", false)
	v.SetDefault("auth.leeway", "30s")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_ttl", "168h")
	v.SetDefault("chat.max_content_len", 4000)
	v.SetDefault("chat.max_attachments", 10)
	v.SetDefault("chat.rate_limit", 20)
	v.SetDefault("chat.rate_interval", "10s")
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.PongWait <= c.PingPeriod {
		return fmt.Errorf("pong_wait (%s) must exceed ping_period (%s)", c.PongWait, c.PingPeriod)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}
	switch c.Backpressure {
	case "kick", "tolerate":
	default:
		return fmt.Errorf("unknown backpressure policy %q", c.Backpressure)
	}
	return nil
}
