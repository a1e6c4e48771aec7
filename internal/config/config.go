package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                      string
	AllowedOrigin             string
	DatabaseURL               string
	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int
	VenueID                   string
	PayrollRatePercent        float64
	PreviewTTLSeconds         int
	StockAuditIntervalMinutes int
	AuthSecret                string
	AccessTokenTTLMinutes     int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	previewTTL, err := strconv.Atoi(getEnv("PREVIEW_TTL_SECONDS", "15"))
	if err != nil || previewTTL < 1 {
		previewTTL = 15
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	payrollRate, err := strconv.ParseFloat(getEnv("PAYROLL_RATE_PERCENT", "3"), 64)
	if err != nil || payrollRate < 0 {
		payrollRate = 3
	}
	auditInterval, err := strconv.Atoi(getEnv("STOCK_AUDIT_INTERVAL_MINUTES", "0"))
	if err != nil || auditInterval < 0 {
		auditInterval = 0
	}

	cfg := Config{
		Port:                      getEnv("PORT", "8080"),
		AllowedOrigin:             getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   redisDB,
		VenueID:                   getEnv("DEFAULT_VENUE_ID", "main-venue"),
		PayrollRatePercent:        payrollRate,
		PreviewTTLSeconds:         previewTTL,
		StockAuditIntervalMinutes: auditInterval,
		AuthSecret:                strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:     tokenTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
