package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr     string
	PostgresDSN    string
	MongoURI       string
	RedisAddr      string
	RabbitURL      string
	GatewayBaseURL string
	GatewayKeyID   string
	GatewaySecret  string
	GatewayTimeout time.Duration
	OrderTTL       time.Duration
	ReapInterval   time.Duration
	PlatformFeeBps int
	OTLPEndpoint   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	gatewayTimeout, _ := time.ParseDuration(os.Getenv("GATEWAY_TIMEOUT"))
	if gatewayTimeout == 0 {
		gatewayTimeout = 5 * time.Second
	}

	orderTTL, _ := time.ParseDuration(os.Getenv("ORDER_TTL"))
	if orderTTL == 0 {
		orderTTL = 15 * time.Minute
	}

	reapInterval, _ := time.ParseDuration(os.Getenv("REAP_INTERVAL"))
	if reapInterval == 0 {
		reapInterval = time.Minute
	}

	feeBps, _ := strconv.Atoi(os.Getenv("PLATFORM_FEE_BPS"))
	if feeBps == 0 {
		feeBps = 200
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	return &Config{
		ListenAddr:     listenAddr,
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		MongoURI:       os.Getenv("MONGO_URI"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RabbitURL:      os.Getenv("RABBIT_URL"),
		GatewayBaseURL: os.Getenv("GATEWAY_BASE_URL"),
		GatewayKeyID:   os.Getenv("GATEWAY_KEY_ID"),
		GatewaySecret:  os.Getenv("GATEWAY_KEY_SECRET"),
		GatewayTimeout: gatewayTimeout,
		OrderTTL:       orderTTL,
		ReapInterval:   reapInterval,
		PlatformFeeBps: feeBps,
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}
