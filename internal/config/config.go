// Package config loads process configuration from a best-effort .env file
// and the environment, binding it into a typed Config via viper.
package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port string

	DatabaseURL string
	StoreDriver string // "postgres" or "memory"

	RedisURL   string
	BookCacheTTL time.Duration

	BusDriver        string // "kafka" or "memory"
	KafkaBrokers     string
	KafkaGroupID     string
	KafkaTopicPrefix string

	LogLevel string
	Env      string

	OTELExporter string // "stdout" or "none"

	SettlementMinDelay time.Duration
	SettlementMaxDelay time.Duration
	SettlementWorkers  int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file found, relying on process environment: %v", err)
	}

	viper.AutomaticEnv()
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("STORE_DRIVER", "memory")
	viper.SetDefault("DATABASE_URL", "")
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("BOOK_CACHE_TTL_MS", 500)
	viper.SetDefault("BUS_DRIVER", "memory")
	viper.SetDefault("KAFKA_BROKERS", "localhost:9092")
	viper.SetDefault("KAFKA_GROUP_ID", "settlement-processor")
	viper.SetDefault("KAFKA_TOPIC_PREFIX", "exchange")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("OTEL_EXPORTER", "stdout")
	viper.SetDefault("SETTLEMENT_MIN_DELAY_MS", 1000)
	viper.SetDefault("SETTLEMENT_MAX_DELAY_MS", 3000)
	viper.SetDefault("SETTLEMENT_WORKERS", 4)

	return &Config{
		Port:             viper.GetString("PORT"),
		DatabaseURL:      viper.GetString("DATABASE_URL"),
		StoreDriver:      viper.GetString("STORE_DRIVER"),
		RedisURL:         viper.GetString("REDIS_URL"),
		BookCacheTTL:     time.Duration(viper.GetInt("BOOK_CACHE_TTL_MS")) * time.Millisecond,
		BusDriver:        viper.GetString("BUS_DRIVER"),
		KafkaBrokers:     viper.GetString("KAFKA_BROKERS"),
		KafkaGroupID:     viper.GetString("KAFKA_GROUP_ID"),
		KafkaTopicPrefix: viper.GetString("KAFKA_TOPIC_PREFIX"),
		LogLevel:         viper.GetString("LOG_LEVEL"),
		Env:              viper.GetString("ENV"),
		OTELExporter:     viper.GetString("OTEL_EXPORTER"),
		SettlementMinDelay: time.Duration(viper.GetInt("SETTLEMENT_MIN_DELAY_MS")) * time.Millisecond,
		SettlementMaxDelay: time.Duration(viper.GetInt("SETTLEMENT_MAX_DELAY_MS")) * time.Millisecond,
		SettlementWorkers:  viper.GetInt("SETTLEMENT_WORKERS"),
	}
}
