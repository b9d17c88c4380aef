package main

import (
	"fmt"
	"os"
)

// Config holds the service configuration, sourced from the environment.
type Config struct {
	ListenAddr    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string
	AdminAPIKey   string
	LogLevel      string
	LogDir        string
}

// LoadConfig reads configuration from the environment. Presence of the
// mandatory values is checked in main; everything else has a sensible
// single-node default.
func LoadConfig() *Config {
	cfg := &Config{
		ListenAddr:    envOr("LISTEN_ADDR", ":8080"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		AdminAPIKey:   os.Getenv("ADMIN_API_KEY"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogDir:        os.Getenv("LOG_DIR"),
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		fmt.Sscanf(dbStr, "%d", &cfg.RedisDB)
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
