package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Solana   SolanaConfig
	Raffle   RaffleConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr string
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	TicketMinted    string
	RaffleCompleted string
}

type SolanaConfig struct {
	RPCURL          string
	ProgramAddress  string
	AdminPublicKeys []string
	PayLabel        string
}

type RaffleConfig struct {
	ReservationTTL time.Duration
	DrawSchedule   string
	SweepSchedule  string
	MetadataBase   string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "raffle_user"),
			Password:     getEnv("DB_PASSWORD", "raffle_pass"),
			Database:     getEnv("DB_NAME", "fortune_wheel"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				TicketMinted:    getEnv("KAFKA_TOPIC_TICKET_MINTED", "ticket-minted"),
				RaffleCompleted: getEnv("KAFKA_TOPIC_RAFFLE_COMPLETED", "raffle-completed"),
			},
		},
		Solana: SolanaConfig{
			RPCURL:          getEnv("SOLANA_RPC_URL", "https://api.devnet.solana.com"),
			ProgramAddress:  getEnv("PROGRAM_PUBLIC_KEY", ""),
			AdminPublicKeys: splitEnv("ADMIN_PUBLIC_KEYS"),
			PayLabel:        getEnv("SOLANA_PAY_LABEL", "Solana Fortune Wheel"),
		},
		Raffle: RaffleConfig{
			ReservationTTL: time.Duration(getEnvInt("RESERVATION_TTL_MINUTES", 15)) * time.Minute,
			DrawSchedule:   getEnv("DRAW_SCHEDULE", "59 23 * * *"),
			SweepSchedule:  getEnv("SWEEP_SCHEDULE", "@hourly"),
			MetadataBase:   getEnv("METADATA_BASE_URL", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
