package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port         int    // TCP event port
	HTTPPort     int    // WebSocket gateway and metrics
	DBPath       string
	WriteTimeout int // seconds
}

func Load() *Config {
	cfg := &Config{
		Port:         2024,
		HTTPPort:     2025,
		DBPath:       "chatd.db",
		WriteTimeout: 30,
	}

	if portStr := os.Getenv("CHATD_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if portStr := os.Getenv("CHATD_HTTP_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.HTTPPort = port
		}
	}

	if dbPath := os.Getenv("CHATD_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if timeoutStr := os.Getenv("CHATD_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	return cfg
}
