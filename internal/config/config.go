/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the drop-service.
// These values are loaded from environment variables.
type Config struct {
	OpsPort              string `mapstructure:"OPS_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`

	ChatSocketAddr string `mapstructure:"CHAT_SOCKET_ADDR"`
	ChatAccount    string `mapstructure:"CHAT_ACCOUNT"`

	LedgerRPCURL      string `mapstructure:"LEDGER_RPC_URL"`
	LedgerAccountID   string `mapstructure:"LEDGER_ACCOUNT_ID"`
	BotPaymentAddress string `mapstructure:"BOT_PAYMENT_ADDRESS"`

	GeocoderBaseURL string `mapstructure:"GEOCODER_BASE_URL"`
	GeocoderAPIKey  string `mapstructure:"GEOCODER_API_KEY"`

	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	WorkerCount       int   `mapstructure:"WORKER_COUNT"`
	MinimumFeePmob    int64 `mapstructure:"MINIMUM_FEE_PMOB"`
	MessagesPerMinute int   `mapstructure:"MESSAGES_PER_MINUTE"`

	StaleSessionSchedule    string `mapstructure:"STALE_SESSION_SCHEDULE"`
	ExpiredDropSchedule     string `mapstructure:"EXPIRED_DROP_SCHEDULE"`
	SessionIdleAfterMinutes int    `mapstructure:"SESSION_IDLE_AFTER_MINUTES"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("OPS_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "drop:rate_limit")
	viper.SetDefault("WORKER_COUNT", 4)
	viper.SetDefault("MINIMUM_FEE_PMOB", 10_000_000_000)
	viper.SetDefault("MESSAGES_PER_MINUTE", 30)
	viper.SetDefault("STALE_SESSION_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("EXPIRED_DROP_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("SESSION_IDLE_AFTER_MINUTES", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("OPS_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "DROP_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("CHAT_SOCKET_ADDR")
	_ = viper.BindEnv("CHAT_ACCOUNT")
	_ = viper.BindEnv("LEDGER_RPC_URL")
	_ = viper.BindEnv("LEDGER_ACCOUNT_ID")
	_ = viper.BindEnv("BOT_PAYMENT_ADDRESS")
	_ = viper.BindEnv("GEOCODER_BASE_URL")
	_ = viper.BindEnv("GEOCODER_API_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "DROP_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("WORKER_COUNT")
	_ = viper.BindEnv("MINIMUM_FEE_PMOB")
	_ = viper.BindEnv("MINIMUM_FEE_COINS")
	_ = viper.BindEnv("MESSAGES_PER_MINUTE")
	_ = viper.BindEnv("STALE_SESSION_SCHEDULE")
	_ = viper.BindEnv("EXPIRED_DROP_SCHEDULE")
	_ = viper.BindEnv("SESSION_IDLE_AFTER_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.OpsPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("DROP_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "drop:rate_limit"
	}

	// Allow specifying the fee in whole coins via MINIMUM_FEE_COINS.
	if viper.IsSet("MINIMUM_FEE_COINS") {
		feeStr := strings.TrimSpace(viper.GetString("MINIMUM_FEE_COINS"))
		if feeStr != "" {
			feeValue, parseErr := strconv.ParseFloat(feeStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid MINIMUM_FEE_COINS\" value=%q err=%v", feeStr, parseErr)
			} else {
				config.MinimumFeePmob = int64(math.Round(feeValue * 1e12))
			}
		}
	}

	if config.MinimumFeePmob < 0 {
		log.Printf("level=warn component=config msg=\"negative fee configured; coercing to zero\" fee_pmob=%d", config.MinimumFeePmob)
		config.MinimumFeePmob = 0
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.SessionIdleAfterMinutes <= 0 {
		config.SessionIdleAfterMinutes = 60
	}

	return
}
