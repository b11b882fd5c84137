// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// Config holds application configuration
type Config struct {
	Port     string
	DBDriver string
	DBConn   string
	LogLevel string
	APIKey   string

	// Settlement tuning
	GracePeriodDays      int
	DayCountBasis        int
	ForgivenessThreshold decimal.Decimal
	SettlementSchedule   string

	// Payment gateway merchant credentials
	GatewayCustID string
	GatewayKey    string

	// SMTP relay for notifications; email delivery is disabled when Host
	// is empty and notifications go to the log instead
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	NotifyTo     string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBDriver:           getEnv("DB_DRIVER", "sqlite"),
		DBConn:             getEnv("DB_CONN", "./data/lending.db"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		APIKey:             getEnv("API_KEY", ""),
		SettlementSchedule: getEnv("SETTLEMENT_SCHEDULE", "0 2 * * *"),
		GatewayCustID:      getEnv("GATEWAY_CUST_ID", ""),
		GatewayKey:         getEnv("GATEWAY_KEY", ""),
		SMTPHost:           getEnv("SMTP_HOST", ""),
		SMTPPort:           getEnv("SMTP_PORT", "587"),
		SMTPUsername:       getEnv("SMTP_USERNAME", ""),
		SMTPPassword:       getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:           getEnv("SMTP_FROM", "noreply@lending.local"),
		NotifyTo:           getEnv("NOTIFY_TO", ""),
	}

	var err error
	if cfg.GracePeriodDays, err = getEnvInt("GRACE_PERIOD_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.DayCountBasis, err = getEnvInt("DAY_COUNT_BASIS", 360); err != nil {
		return nil, err
	}
	if cfg.ForgivenessThreshold, err = getEnvDecimal("FORGIVENESS_THRESHOLD", "100"); err != nil {
		return nil, err
	}

	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return nil, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}
	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.GracePeriodDays < 0 {
		return nil, fmt.Errorf("GRACE_PERIOD_DAYS must not be negative")
	}
	if cfg.DayCountBasis <= 0 {
		return nil, fmt.Errorf("DAY_COUNT_BASIS must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return n, nil
}

func getEnvDecimal(key, defaultVal string) (decimal.Decimal, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		value = defaultVal
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal, got %q", key, value)
	}
	return d, nil
}
