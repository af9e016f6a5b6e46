package config

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server Server `mapstructure:"server"`
	Client Client `mapstructure:"client"`
	Stream Stream `mapstructure:"stream"`
	Call   Call   `mapstructure:"call"`
	Cache  Cache  `mapstructure:"cache"`
	Log    Log    `mapstructure:"log"`
}

// Server holds the chat server endpoint configuration
type Server struct {
	BaseURL string `mapstructure:"base_url"`
}

// Client holds timeline defaults
type Client struct {
	DefaultChannel string `mapstructure:"default_channel"`
	WindowDays     int    `mapstructure:"window_days"`
	// Timezone is an IANA zone name used for day-header bucketing.
	// Empty means the system local zone.
	Timezone string `mapstructure:"timezone"`
}

// Stream holds reconnection policy for the live streams
type Stream struct {
	BackoffFloorMs int `mapstructure:"backoff_floor_ms"`
	BackoffCapMs   int `mapstructure:"backoff_cap_ms"`
}

// Call holds call-session policy
type Call struct {
	ConnectTimeoutS int `mapstructure:"connect_timeout_s"`
	CandidateQueue  int `mapstructure:"candidate_queue"`
}

// Cache holds the local message cache configuration
type Cache struct {
	Path string `mapstructure:"path"`
}

// Log holds logging configuration
type Log struct {
	Level string `mapstructure:"level"`
}

func (s Stream) BackoffFloor() time.Duration { return time.Duration(s.BackoffFloorMs) * time.Millisecond }
func (s Stream) BackoffCap() time.Duration   { return time.Duration(s.BackoffCapMs) * time.Millisecond }
func (c Call) ConnectTimeout() time.Duration { return time.Duration(c.ConnectTimeoutS) * time.Second }

// Load loads the configuration from config.yaml in the working directory,
// or from the file named by CONFIG_PATH when set.
func Load() (*Config, error) {
	v := viper.New()
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		v.SetConfigFile(p)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("client.default_channel", "public-1")
	v.SetDefault("client.window_days", 3)
	v.SetDefault("stream.backoff_floor_ms", 1000)
	v.SetDefault("stream.backoff_cap_ms", 30000)
	v.SetDefault("call.connect_timeout_s", 30)
	v.SetDefault("call.candidate_queue", 64)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and env cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
