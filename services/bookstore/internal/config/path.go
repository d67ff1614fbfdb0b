package config

import "os"

// ConfigPath is the default config file, overridable with BOOKSTORE_CONFIG.
var ConfigPath = configPathFromEnv()

func configPathFromEnv() string {
	if v := os.Getenv("BOOKSTORE_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}
