package config

import (
	"os"
	"path/filepath"
)

// Path returns the config file path. The D11_MQTT_CONFIG environment
// variable overrides the default ~/.d11-mqtt/config location.
func Path() (string, error) {
	if path := os.Getenv("D11_MQTT_CONFIG"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".d11-mqtt", "config"), nil
}
