package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	RiskThreshold      float64
	SampleCount        int
	TopKDrivers        int
	RandomSeed         int64
	AttributorWorkers  int
	ModelParamsPath    string
	RemoteModelURL     string
	RemoteModelTimeout time.Duration
	DataPath           string
	ListenAddr         string
	MetricsPort        int
	AuditRequired      bool
	RecentStatsLimit   int
	RequestTimeout     time.Duration
}

type ConfigFile struct {
	Policy struct {
		RiskThreshold float64 `yaml:"riskThreshold"`
		TopKDrivers   int     `yaml:"topKDrivers"`
	} `yaml:"policy"`

	Attribution struct {
		SampleCount int   `yaml:"sampleCount"`
		RandomSeed  int64 `yaml:"randomSeed"`
		Workers     int   `yaml:"workers"`
	} `yaml:"attribution"`

	Model struct {
		ParamsPath    string `yaml:"paramsPath"`
		RemoteURL     string `yaml:"remoteURL"`
		RemoteTimeout string `yaml:"remoteTimeout"`
	} `yaml:"model"`

	System struct {
		DataPath         string `yaml:"dataPath"`
		ListenAddr       string `yaml:"listenAddr"`
		MetricsPort      int    `yaml:"metricsPort"`
		AuditRequired    bool   `yaml:"auditRequired"`
		RecentStatsLimit int    `yaml:"recentStatsLimit"`
		RequestTimeout   string `yaml:"requestTimeout"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Settings{
		RiskThreshold:      getFloatFromEnvOrConfig("RISK_THRESHOLD", config.Policy.RiskThreshold, 0.50),
		SampleCount:        getIntFromEnvOrConfig("ATTRIBUTION_SAMPLES", config.Attribution.SampleCount, 0),
		TopKDrivers:        getIntFromEnvOrConfig("TOP_K_DRIVERS", config.Policy.TopKDrivers, 5),
		RandomSeed:         getInt64FromEnvOrConfig("RANDOM_SEED", config.Attribution.RandomSeed, 0),
		AttributorWorkers:  getIntFromEnvOrConfig("ATTRIBUTOR_WORKERS", config.Attribution.Workers, 4),
		ModelParamsPath:    getEnvOrDefault("MODEL_PARAMS_PATH", config.Model.ParamsPath),
		RemoteModelURL:     getEnvOrDefault("REMOTE_MODEL_URL", config.Model.RemoteURL),
		RemoteModelTimeout: getDurationFromEnvOrConfig("REMOTE_MODEL_TIMEOUT", config.Model.RemoteTimeout, 5*time.Second),
		DataPath:           getEnvOrDefault("DATA_PATH", config.System.DataPath),
		ListenAddr:         getEnvOrDefaultNonEmpty("LISTEN_ADDR", config.System.ListenAddr, ":8000"),
		MetricsPort:        getIntFromEnvOrConfig("METRICS_PORT", config.System.MetricsPort, 9090),
		AuditRequired:      getBoolFromEnvOrConfig("AUDIT_REQUIRED", config.System.AuditRequired),
		RecentStatsLimit:   getIntFromEnvOrConfig("RECENT_STATS_LIMIT", config.System.RecentStatsLimit, 10),
		RequestTimeout:     getDurationFromEnvOrConfig("REQUEST_TIMEOUT", config.System.RequestTimeout, 10*time.Second),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		RiskThreshold:      getFloatOrDefault("RISK_THRESHOLD", 0.50),
		SampleCount:        getIntOrDefault("ATTRIBUTION_SAMPLES", 0), // 0 = max(100, 10*n)
		TopKDrivers:        getIntOrDefault("TOP_K_DRIVERS", 5),
		RandomSeed:         getInt64OrDefault("RANDOM_SEED", 0),
		AttributorWorkers:  getIntOrDefault("ATTRIBUTOR_WORKERS", 4),
		ModelParamsPath:    os.Getenv("MODEL_PARAMS_PATH"), // optional, empty = embedded model
		RemoteModelURL:     os.Getenv("REMOTE_MODEL_URL"),  // optional
		RemoteModelTimeout: getDurationOrDefault("REMOTE_MODEL_TIMEOUT", 5*time.Second),
		DataPath:           getEnvOrDefault("DATA_PATH", "data"),
		ListenAddr:         getEnvOrDefault("LISTEN_ADDR", ":8000"),
		MetricsPort:        getIntOrDefault("METRICS_PORT", 9090),
		AuditRequired:      getBoolOrDefault("AUDIT_REQUIRED", false),
		RecentStatsLimit:   getIntOrDefault("RECENT_STATS_LIMIT", 10),
		RequestTimeout:     getDurationOrDefault("REQUEST_TIMEOUT", 10*time.Second),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvOrDefaultNonEmpty(key, configValue, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if configValue != "" {
		return configValue
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getInt64FromEnvOrConfig(key string, configValue, defaultValue int64) int64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseInt(env, 10, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getDurationFromEnvOrConfig(key, configValue string, defaultValue time.Duration) time.Duration {
	if env := os.Getenv(key); env != "" {
		if d, err := time.ParseDuration(env); err == nil {
			return d
		}
	}
	if d, err := time.ParseDuration(configValue); err == nil {
		return d
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings performs range validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.RiskThreshold <= 0 || settings.RiskThreshold >= 1 {
		return fmt.Errorf("risk threshold must be strictly between 0 and 1, got %f", settings.RiskThreshold)
	}
	if settings.SampleCount < 0 || settings.SampleCount > 1_000_000 {
		return fmt.Errorf("attribution sample count must be between 0 and 1000000, got %d", settings.SampleCount)
	}
	if settings.TopKDrivers < 1 || settings.TopKDrivers > 50 {
		return fmt.Errorf("top-k drivers must be between 1 and 50, got %d", settings.TopKDrivers)
	}
	if settings.AttributorWorkers < 1 || settings.AttributorWorkers > 64 {
		return fmt.Errorf("attributor workers must be between 1 and 64, got %d", settings.AttributorWorkers)
	}
	if settings.MetricsPort < 1024 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.RecentStatsLimit < 1 || settings.RecentStatsLimit > 1000 {
		return fmt.Errorf("recent stats limit must be between 1 and 1000, got %d", settings.RecentStatsLimit)
	}
	if settings.RequestTimeout != 0 && (settings.RequestTimeout < 100*time.Millisecond || settings.RequestTimeout > 5*time.Minute) {
		return fmt.Errorf("request timeout must be 0 or between 100ms and 5m, got %v", settings.RequestTimeout)
	}
	if settings.RemoteModelTimeout < time.Second || settings.RemoteModelTimeout > time.Minute {
		return fmt.Errorf("remote model timeout must be between 1s and 1m, got %v", settings.RemoteModelTimeout)
	}
	if settings.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	return nil
}
