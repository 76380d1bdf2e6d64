// Package config loads runtime configuration from the environment, with a
// .env file picked up for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource          string
	Port              string
	Env               string
	PlatformAccountID string
	FeeBps            int64
	AMQPURL           string
	RedisAddr         string
	RateLimitPerMin   int
}

// Load reads configuration from environment variables. A missing .env file
// is not an error; missing required variables are.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	platformAccount := os.Getenv("PLATFORM_ACCOUNT_ID")
	if platformAccount == "" {
		return nil, fmt.Errorf("PLATFORM_ACCOUNT_ID environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	feeBps := int64(1000)
	if v := os.Getenv("FEE_BPS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 || n > 10000 {
			return nil, fmt.Errorf("invalid FEE_BPS: %q", v)
		}
		feeBps = n
	}

	rateLimit := 120
	if v := os.Getenv("RATE_LIMIT_PER_MIN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MIN: %q", v)
		}
		rateLimit = n
	}

	return &Config{
		DBSource:          dbSource,
		Port:              port,
		Env:               env,
		PlatformAccountID: platformAccount,
		FeeBps:            feeBps,
		AMQPURL:           os.Getenv("AMQP_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RateLimitPerMin:   rateLimit,
	}, nil
}
