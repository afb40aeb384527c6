package config

import (
	"log"
	"time"

	"github.com/spf13/viper"

	"github.com/shihanpietersz/migration-manager/pkg/postgres"
	"github.com/shihanpietersz/migration-manager/pkg/redis"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Azure        AzureConfig        `mapstructure:"azure"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Validation   ValidationConfig   `mapstructure:"validation"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Database     postgres.Config    `mapstructure:"database"`
	Redis        redis.Config       `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Port string
	Env  string
}

type AzureConfig struct {
	TenantID           string
	ClientID           string
	ClientSecret       string
	SubscriptionID     string
	ManagementBaseURL  string
	LoginBaseURL       string
	APIVersion         string
	MaxRequestsPerSec  int
	TokenExpiryMargin  time.Duration
	VMMetadataCacheTTL time.Duration
}

type OrchestratorConfig struct {
	DefaultMaxParallel int
	PollInterval       time.Duration
	TargetTimeout      time.Duration
}

type ValidationConfig struct {
	SchedulerInterval time.Duration
	OutputTruncateLen int
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Println("Failed to read config file .env config try read from environment variables")
	}

	viper.SetDefault("AZURE_MANAGEMENT_BASE_URL", "https://management.azure.com")
	viper.SetDefault("AZURE_LOGIN_BASE_URL", "https://login.microsoftonline.com")
	viper.SetDefault("AZURE_API_VERSION", "2024-07-01")
	viper.SetDefault("AZURE_MAX_REQUESTS_PER_SEC", 10)
	viper.SetDefault("AZURE_TOKEN_EXPIRY_MARGIN", "5m")
	viper.SetDefault("AZURE_VM_METADATA_CACHE_TTL", "10m")
	viper.SetDefault("ORCHESTRATOR_DEFAULT_MAX_PARALLEL", 5)
	viper.SetDefault("ORCHESTRATOR_POLL_INTERVAL", "10s")
	viper.SetDefault("ORCHESTRATOR_TARGET_TIMEOUT", "90m")
	viper.SetDefault("VALIDATION_SCHEDULER_INTERVAL", "30s")
	viper.SetDefault("VALIDATION_OUTPUT_TRUNCATE_LEN", 500)

	config := &Config{
		Server: ServerConfig{
			Port: viper.GetString("PORT"),
			Env:  viper.GetString("ENV"),
		},
		Azure: AzureConfig{
			TenantID:           viper.GetString("AZURE_TENANT_ID"),
			ClientID:           viper.GetString("AZURE_CLIENT_ID"),
			ClientSecret:       viper.GetString("AZURE_CLIENT_SECRET"),
			SubscriptionID:     viper.GetString("AZURE_SUBSCRIPTION_ID"),
			ManagementBaseURL:  viper.GetString("AZURE_MANAGEMENT_BASE_URL"),
			LoginBaseURL:       viper.GetString("AZURE_LOGIN_BASE_URL"),
			APIVersion:         viper.GetString("AZURE_API_VERSION"),
			MaxRequestsPerSec:  viper.GetInt("AZURE_MAX_REQUESTS_PER_SEC"),
			TokenExpiryMargin:  viper.GetDuration("AZURE_TOKEN_EXPIRY_MARGIN"),
			VMMetadataCacheTTL: viper.GetDuration("AZURE_VM_METADATA_CACHE_TTL"),
		},
		Orchestrator: OrchestratorConfig{
			DefaultMaxParallel: viper.GetInt("ORCHESTRATOR_DEFAULT_MAX_PARALLEL"),
			PollInterval:       viper.GetDuration("ORCHESTRATOR_POLL_INTERVAL"),
			TargetTimeout:      viper.GetDuration("ORCHESTRATOR_TARGET_TIMEOUT"),
		},
		Validation: ValidationConfig{
			SchedulerInterval: viper.GetDuration("VALIDATION_SCHEDULER_INTERVAL"),
			OutputTruncateLen: viper.GetInt("VALIDATION_OUTPUT_TRUNCATE_LEN"),
		},
		Telegram: TelegramConfig{
			BotToken: viper.GetString("TELEGRAM_BOT_TOKEN"),
			ChatID:   viper.GetString("TELEGRAM_CHAT_ID"),
		},
		Log: LogConfig{
			Level: viper.GetString("LOG_LEVEL"),
		},
		Database: postgres.Config{
			Host:            viper.GetString("DATABASE_HOST"),
			Port:            viper.GetInt("DATABASE_PORT"),
			User:            viper.GetString("DATABASE_USER"),
			Password:        viper.GetString("DATABASE_PASSWORD"),
			DBName:          viper.GetString("DATABASE_NAME"),
			SSLMode:         viper.GetString("DATABASE_SSL_MODE"),
			TimeZone:        viper.GetString("DATABASE_TIME_ZONE"),
			MaxIdleConns:    viper.GetInt("DATABASE_MAX_IDLE_CONNS"),
			MaxOpenConns:    viper.GetInt("DATABASE_MAX_OPEN_CONNS"),
			ConnMaxLifetime: viper.GetString("DATABASE_CONN_MAX_LIFETIME"),
			LogLevel:        viper.GetString("DATABASE_LOG_LEVEL"),
		},
		Redis: redis.Config{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetInt("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
			PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
		},
	}

	return config, nil
}
