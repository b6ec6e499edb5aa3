// Package config loads process configuration from the environment. Every
// knob has a default suited to local development; only real gateway
// credentials have none.
package config

import (
	"os"

	"github.com/Zhima-Mochi/payflow/internal/gateway"
)

type Config struct {
	ServiceName string
	Env         string
	Addr        string

	// SQLitePath is the payments database file. Empty selects the in-memory
	// repository instead.
	SQLitePath string

	Dummy    gateway.Config
	Netaxept *gateway.Config
	Paybox   *gateway.Config
}

// FromEnv assembles the configuration. Netaxept and Paybox are only enabled
// when their credentials are present.
func FromEnv() Config {
	cfg := Config{
		ServiceName: getenvDefault("SERVICE_NAME", "payflow"),
		Env:         getenvDefault("ENV", "dev"),
		Addr:        getenvDefault("ADDR", ":8080"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
		Dummy: gateway.Config{
			AutoCapture:      os.Getenv("DUMMY_AUTO_CAPTURE") == "true",
			SupportsRefund:   getenvDefault("DUMMY_SUPPORTS_REFUND", "true") == "true",
			ConnectionParams: map[string]string{},
		},
	}

	if merchant := os.Getenv("NETAXEPT_MERCHANT_ID"); merchant != "" {
		cfg.Netaxept = &gateway.Config{
			AutoCapture:    true,
			SupportsRefund: true,
			ConnectionParams: map[string]string{
				"merchant_id":        merchant,
				"secret":             os.Getenv("NETAXEPT_SECRET"),
				"base_url":           getenvDefault("NETAXEPT_BASE_URL", "https://test.epayment.nets.eu"),
				"after_terminal_url": os.Getenv("NETAXEPT_AFTER_TERMINAL_URL"),
			},
		}
	}

	if site := os.Getenv("PAYBOX_SITE"); site != "" {
		cfg.Paybox = &gateway.Config{
			SupportsRefund: true,
			ConnectionParams: map[string]string{
				"site":     site,
				"rank":     os.Getenv("PAYBOX_RANG"),
				"key":      os.Getenv("PAYBOX_CLE"),
				"base_url": getenvDefault("PAYBOX_BASE_URL", "https://preprod-ppps.paybox.com/PPPS.php"),
			},
		}
	}

	return cfg
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
