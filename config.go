package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TBXark/optional-go"
	"github.com/go-sphere/confstore"
	"github.com/go-sphere/confstore/codec"
	"github.com/go-sphere/confstore/provider/file"
)

const (
	defaultBaseURL      = "https://tutorial.formatgold.de/api"
	defaultPort         = 8888
	defaultPingInterval = 30 * time.Second
)

var errMissingToken = errors.New("API_TOKEN environment variable must be set")

type Options struct {
	LogEnabled         optional.Field[bool] `json:"logEnabled,omitempty"`
	PanicIfUnreachable optional.Field[bool] `json:"panicIfUnreachable,omitempty"`
	PingIntervalSec    optional.Field[int]  `json:"pingIntervalSeconds,omitempty"`
}

type Config struct {
	BaseURL  string  `json:"baseURL,omitempty"`
	APIToken string  `json:"apiToken,omitempty"`
	Port     int     `json:"port,omitempty"`
	SpecDir  string  `json:"specDir,omitempty"`
	Options  Options `json:"options,omitempty"`
}

// loadConfig reads the optional JSON config file, then applies environment
// overrides. BASE_URL and PORT have defaults; API_TOKEN has none and its
// absence aborts startup before any handle is created.
func loadConfig(path string) (*Config, error) {
	config := &Config{}
	if strings.TrimSpace(path) != "" {
		loaded, err := confstore.Load[Config](file.New(path), codec.JsonCodec())
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		config = loaded
	}

	if v := strings.TrimSpace(os.Getenv("BASE_URL")); v != "" {
		config.BaseURL = v
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if v := strings.TrimSpace(os.Getenv("API_TOKEN")); v != "" {
		config.APIToken = v
	}
	config.Port = envInt("PORT", config.Port)
	if config.Port == 0 {
		config.Port = defaultPort
	}
	if v := strings.TrimSpace(os.Getenv("SPEC_DIR")); v != "" {
		config.SpecDir = v
	}

	if strings.TrimSpace(config.APIToken) == "" {
		return nil, errMissingToken
	}

	log.Printf("<config> loaded, API base URL: %s", config.BaseURL)
	return config, nil
}

func (c *Config) pingInterval() time.Duration {
	if sec := c.Options.PingIntervalSec.OrElse(0); sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return defaultPingInterval
}

func envEnabled(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
