package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "chargebridge/libs/config"
)

// Config defines the chargebridge service configuration.
type Config struct {
	HTTP struct {
		Port    string `yaml:"port" env:"HTTP_PORT"`
		BaseURL string `yaml:"baseUrl" env:"BASE_URL"`
	} `yaml:"http"`
	CFOS struct {
		BaseURL  string `yaml:"baseUrl" env:"CFOS_BASE_URL"`
		Username string `yaml:"username" env:"CFOS_USERNAME"`
		Password string `yaml:"password" env:"CFOS_PASSWORD"`
		RFIDID   string `yaml:"rfidId" env:"CFOS_RFID_ID"`
	} `yaml:"cfos"`
	Cobot struct {
		ClientID     string `yaml:"clientId" env:"COBOT_CLIENT_ID"`
		ClientSecret string `yaml:"clientSecret" env:"COBOT_CLIENT_SECRET"`
	} `yaml:"cobot"`
	Storage struct {
		URI string `yaml:"uri" env:"STORAGE_URI"`
	} `yaml:"storage"`
	Monitor struct {
		Interval time.Duration `yaml:"interval" env:"MONITOR_INTERVAL"`
	} `yaml:"monitor"`
	Auth struct {
		SealPassword   string        `yaml:"sealPassword" env:"SEAL_PASSWORD"`
		JWTSecret      string        `yaml:"jwtSecret" env:"JWT_SECRET"`
		TokenTTL       time.Duration `yaml:"tokenTtl" env:"AUTH_TOKEN_TTL"`
		UserDetailsTTL time.Duration `yaml:"userDetailsTtl" env:"USER_DETAILS_TTL"`
	} `yaml:"auth"`
}

// Load reads configuration via the shared helper and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.Storage.URI = "file:./chargebridge.db.json"
	cfg.Monitor.Interval = time.Minute
	cfg.Auth.TokenTTL = 12 * time.Hour
	cfg.Auth.UserDetailsTTL = time.Minute

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.CFOS.BaseURL) == "" {
		return nil, errors.New("config: cfos base url required")
	}
	if strings.TrimSpace(cfg.CFOS.RFIDID) == "" {
		return nil, errors.New("config: cfos rfid id required")
	}
	if strings.TrimSpace(cfg.Cobot.ClientID) == "" || strings.TrimSpace(cfg.Cobot.ClientSecret) == "" {
		return nil, errors.New("config: cobot client credentials required")
	}
	if strings.TrimSpace(cfg.HTTP.BaseURL) == "" {
		return nil, errors.New("config: http base url required (oauth redirect target)")
	}
	if strings.TrimSpace(cfg.Auth.SealPassword) == "" {
		return nil, errors.New("config: seal password required")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("config: jwt secret required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
