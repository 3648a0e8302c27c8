package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DefaultEnvFile is read when present; a missing default file is not an error.
const DefaultEnvFile = ".env"

type Config struct {
	Port     int    `mapstructure:"service_port" validate:"min=1,max=65535"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`

	RedisAddr     string   `mapstructure:"redis_addr" validate:"required"`
	RedisPassword string   `mapstructure:"redis_password"`
	RedisDB       int      `mapstructure:"redis_db" validate:"min=0"`
	DatabaseURL   string   `mapstructure:"database_url"`
	KafkaBrokers  []string `mapstructure:"kafka_brokers"`
	KafkaTopic    string   `mapstructure:"kafka_topic"`

	MeshyAPIKey     string        `mapstructure:"meshy_api_key" validate:"required"`
	MeshyAPIBaseURL string        `mapstructure:"meshy_api_base_url" validate:"required,url"`
	RemoteTimeout   time.Duration `mapstructure:"remote_timeout" validate:"gt=0"`
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	PollRetryLimit  int           `mapstructure:"poll_retry_limit" validate:"min=0"`
	WorkerCount     int           `mapstructure:"worker_count" validate:"min=1"`

	StaticDir      string `mapstructure:"static_dir" validate:"required"`
	OutputDir      string `mapstructure:"output_dir" validate:"required"`
	MetadataDir    string `mapstructure:"metadata_dir" validate:"required"`
	UploadDir      string `mapstructure:"upload_dir" validate:"required"`
	ViewerBaseURL  string `mapstructure:"viewer_base_url" validate:"required"`
	ModelURLPrefix string `mapstructure:"model_url_prefix" validate:"required"`

	MaxFileSize       int64 `mapstructure:"max_file_size" validate:"gt=0"`
	MaxImageDimension int   `mapstructure:"max_image_dimension" validate:"min=0"`

	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	RateLimitRPS       float64  `mapstructure:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst     int      `mapstructure:"rate_limit_burst" validate:"min=1"`

	MailServer   string `mapstructure:"mail_server"`
	MailPort     int    `mapstructure:"mail_port"`
	MailUsername string `mapstructure:"mail_username"`
	MailPassword string `mapstructure:"mail_password"`
	MailFrom     string `mapstructure:"mail_from" validate:"omitempty,email"`
	MailFromName string `mapstructure:"mail_from_name"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Load reads configuration from defaults, an optional dotenv file and the
// process environment, in increasing order of precedence.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			if !(envFile == DefaultEnvFile && errors.Is(err, fs.ErrNotExist)) {
				return nil, fmt.Errorf("failed to read env file: %w", err)
			}
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func (c *Config) LedgerEnabled() bool {
	return c.DatabaseURL != ""
}

func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func (c *Config) MailEnabled() bool {
	return c.MailServer != "" && c.MailFrom != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_port", 8000)
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "")

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("database_url", "")
	v.SetDefault("kafka_brokers", []string{})
	v.SetDefault("kafka_topic", "generation_events")

	v.SetDefault("meshy_api_key", "")
	v.SetDefault("meshy_api_base_url", "")
	v.SetDefault("remote_timeout", 60*time.Second)
	v.SetDefault("poll_interval", 10*time.Second)
	v.SetDefault("poll_retry_limit", 2)
	v.SetDefault("worker_count", 5)

	v.SetDefault("static_dir", "static")
	v.SetDefault("output_dir", "static/models")
	v.SetDefault("metadata_dir", "metadata")
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("viewer_base_url", "https://recollector-frontend.vercel.app/result")
	v.SetDefault("model_url_prefix", "/static/models")

	v.SetDefault("max_file_size", int64(20<<20))
	v.SetDefault("max_image_dimension", 0)

	v.SetDefault("cors_allowed_origins", []string{"*"})
	v.SetDefault("rate_limit_rps", 5.0)
	v.SetDefault("rate_limit_burst", 10)

	v.SetDefault("mail_server", "")
	v.SetDefault("mail_port", 587)
	v.SetDefault("mail_username", "")
	v.SetDefault("mail_password", "")
	v.SetDefault("mail_from", "")
	v.SetDefault("mail_from_name", "Recollector")

	v.SetDefault("shutdown_timeout", 15*time.Second)
}
