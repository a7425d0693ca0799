package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "THREATDECK"

type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	GRPC        GRPCConfig      `mapstructure:"grpc"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Providers   ProvidersConfig `mapstructure:"providers"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	LLM         LLMConfig       `mapstructure:"llm"`
	Slack       SlackConfig     `mapstructure:"slack"`
	Client      ClientConfig    `mapstructure:"client"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SeedDemoData   bool          `mapstructure:"seed_demo_data"`
}

type GRPCConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// DatabaseConfig selects Postgres when URL is set, the in-memory store otherwise.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig selects Redis for the stats cache when URL is set.
type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// AuthConfig enables bearer auth. Token is a static shared secret; JWTSecret
// accepts HS256 tokens. Both empty disables auth.
type AuthConfig struct {
	Token     string `mapstructure:"token"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ProvidersConfig struct {
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
	URLHaus       bool          `mapstructure:"urlhaus"`
	Blocklists    bool          `mapstructure:"blocklists"`
	OTXAPIKey     string        `mapstructure:"otx_api_key"`
	OSVEcosystems []string      `mapstructure:"osv_ecosystems"`
	RSSFeeds      []string      `mapstructure:"rss_feeds"`
}

type SchedulerConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Collect   string `mapstructure:"collect"`
	Summarize string `mapstructure:"summarize"`
}

type LLMConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIURL  string        `mapstructure:"api_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SlackConfig struct {
	BotToken    string `mapstructure:"bot_token"`
	Channel     string `mapstructure:"channel"`
	MentionTeam string `mapstructure:"mention_team"`
	APIURL      string `mapstructure:"api_url"`
}

// ClientConfig is read by the threatdeck CLI.
type ClientConfig struct {
	APIURL    string        `mapstructure:"api_url"`
	TokenFile string        `mapstructure:"token_file"`
	ExportDir string        `mapstructure:"export_dir"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// legacyEnv keeps the plain variable names older deployments already export.
var legacyEnv = map[string]string{
	"database.url":          "DATABASE_URL",
	"auth.token":            "REST_API_AUTH_TOKEN",
	"grpc.listen_addr":      "GRPC_LISTEN_ADDR",
	"providers.otx_api_key": "OTX_API_KEY",
	"llm.api_key":           "LLM_API_KEY",
	"llm.api_url":           "LLM_API_URL",
	"llm.model":             "LLM_MODEL",
	"slack.bot_token":       "SLACK_BOT_TOKEN",
	"slack.channel":         "SLACK_CHANNEL_SECURITY",
	"slack.mention_team":    "SLACK_MENTION_TEAM",
}

// Load reads .env, then defaults, an optional YAML file and THREATDECK_*
// environment variables, later sources winning. An empty path looks for
// threatdeck.yaml in the working directory and tolerates its absence.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("threatdeck")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	// must outlast the refresh handler timeout
	v.SetDefault("server.write_timeout", 150*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.seed_demo_data", true)

	v.SetDefault("grpc.listen_addr", "localhost:50051") // loopback unless set explicitly

	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.prefix", "threatdeck:")

	v.SetDefault("auth.token", "")
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("providers.http_timeout", 60*time.Second)
	v.SetDefault("providers.urlhaus", true)
	v.SetDefault("providers.blocklists", true)
	v.SetDefault("providers.otx_api_key", "")
	v.SetDefault("providers.osv_ecosystems", []string{"npm", "PyPI"})
	v.SetDefault("providers.rss_feeds", []string{})

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.collect", "@every 15m")
	v.SetDefault("scheduler.summarize", "@every 1h")

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.api_url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.channel", "#security-alerts")
	v.SetDefault("slack.mention_team", "@security-team")
	v.SetDefault("slack.api_url", "https://slack.com/api/chat.postMessage")

	v.SetDefault("client.api_url", "http://localhost:5000/api")
	v.SetDefault("client.token_file", "")
	v.SetDefault("client.export_dir", ".")
	v.SetDefault("client.timeout", 10*time.Second)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q (want json or console)", c.Logging.Format)
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return errors.New("llm.enabled requires llm.api_key")
	}
	return nil
}

// AuthEnabled reports whether the API requires a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.Auth.Token != "" || c.Auth.JWTSecret != ""
}
