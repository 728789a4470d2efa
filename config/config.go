// Package config loads the bridge configuration from a YAML file or, for
// containerized deployments, from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	ComfortCloud ComfortCloudConfig `yaml:"comfort_cloud"`
	Store        StoreConfig        `yaml:"store"`
	Poll         PollConfig         `yaml:"poll"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// ComfortCloudConfig contains upstream Comfort Cloud settings. Login
// credentials may be left empty when a stored session should be the only
// way in.
type ComfortCloudConfig struct {
	BaseURL       string        `yaml:"base_url"`
	AppVersion    string        `yaml:"app_version"`
	LoginID       string        `yaml:"login_id"`
	Password      string        `yaml:"password"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MinInterval   time.Duration `yaml:"min_interval"`
	MaxQueue      int           `yaml:"max_queue"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
}

// StoreConfig selects where the Comfort Cloud session is persisted
type StoreConfig struct {
	Backend string      `yaml:"backend"` // "file", "sqlite", "redis" or "memory"
	Path    string      `yaml:"path"`    // file and sqlite backends
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig contains the redis session store settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// PollConfig contains the polling cadence
type PollConfig struct {
	StateInterval  time.Duration `yaml:"state_interval"`
	DeviceInterval time.Duration `yaml:"device_interval"`
	Jitter         time.Duration `yaml:"jitter"`
}

// MQTTConfig contains the MQTT bridge settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TLS         bool   `yaml:"tls"`
	QoS         int    `yaml:"qos"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// InfluxDBConfig contains the telemetry settings
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Validate checks the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}
	if c.Server.APIKey == "" {
		return fmt.Errorf("%w: API key is required", ErrInvalidConfig)
	}

	if c.ComfortCloud.MaxConcurrent < 0 {
		return fmt.Errorf("%w: max_concurrent must not be negative", ErrInvalidConfig)
	}
	if c.ComfortCloud.MinInterval < 0 {
		return fmt.Errorf("%w: min_interval must not be negative", ErrInvalidConfig)
	}
	if c.ComfortCloud.MaxQueue < 0 {
		return fmt.Errorf("%w: max_queue must not be negative", ErrInvalidConfig)
	}

	switch c.Store.Backend {
	case "":
		c.Store.Backend = "file"
	case "file", "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}
	if (c.Store.Backend == "file" || c.Store.Backend == "sqlite") && c.Store.Path == "" {
		c.Store.Path = defaultStorePath(c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("%w: redis store requires an address", ErrInvalidConfig)
	}

	if c.Poll.StateInterval == 0 {
		c.Poll.StateInterval = 60 * time.Second
	}
	if c.Poll.StateInterval < time.Second {
		return fmt.Errorf("%w: state_interval below one second", ErrInvalidConfig)
	}
	if c.Poll.DeviceInterval == 0 {
		c.Poll.DeviceInterval = 1 * time.Hour
	}
	if c.Poll.Jitter == 0 {
		c.Poll.Jitter = 5 * time.Second
	}
	if c.Poll.Jitter < 0 {
		return fmt.Errorf("%w: jitter must not be negative", ErrInvalidConfig)
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			return fmt.Errorf("%w: mqtt requires a host", ErrInvalidConfig)
		}
		if c.MQTT.Port == 0 {
			c.MQTT.Port = 1883
		}
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = "ccbridge"
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("%w: mqtt qos must be 0, 1 or 2", ErrInvalidConfig)
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Token == "" {
			return fmt.Errorf("%w: influxdb requires url and token", ErrInvalidConfig)
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			return fmt.Errorf("%w: influxdb requires org and bucket", ErrInvalidConfig)
		}
	}

	switch c.Logging.Level {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "":
		c.Logging.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}

	return nil
}

func defaultStorePath(backend string) string {
	if backend == "sqlite" {
		return "./ccbridge.db"
	}
	return "./ccbridge-session.json"
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromEnv loads configuration from environment variables
// This is useful for containerized deployments
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:   getEnv("CCBRIDGE_HOST", "0.0.0.0"),
			Port:   getEnvInt("CCBRIDGE_PORT", 8080),
			APIKey: getEnv("CCBRIDGE_API_KEY", ""),
		},
		ComfortCloud: ComfortCloudConfig{
			BaseURL:       getEnv("CCBRIDGE_CC_BASE_URL", ""),
			AppVersion:    getEnv("CCBRIDGE_CC_APP_VERSION", ""),
			LoginID:       getEnv("CCBRIDGE_CC_LOGIN_ID", ""),
			Password:      getEnv("CCBRIDGE_CC_PASSWORD", ""),
			MaxConcurrent: getEnvInt("CCBRIDGE_CC_MAX_CONCURRENT", 0),
			MinInterval:   getEnvDuration("CCBRIDGE_CC_MIN_INTERVAL", 0),
			MaxQueue:      getEnvInt("CCBRIDGE_CC_MAX_QUEUE", 0),
			HTTPTimeout:   getEnvDuration("CCBRIDGE_CC_HTTP_TIMEOUT", 0),
		},
		Store: StoreConfig{
			Backend: getEnv("CCBRIDGE_STORE_BACKEND", "file"),
			Path:    getEnv("CCBRIDGE_STORE_PATH", ""),
			Redis: RedisConfig{
				Addr:     getEnv("CCBRIDGE_REDIS_ADDR", ""),
				Password: getEnv("CCBRIDGE_REDIS_PASSWORD", ""),
				DB:       getEnvInt("CCBRIDGE_REDIS_DB", 0),
				Key:      getEnv("CCBRIDGE_REDIS_KEY", ""),
			},
		},
		Poll: PollConfig{
			StateInterval:  getEnvDuration("CCBRIDGE_POLL_STATE_INTERVAL", 0),
			DeviceInterval: getEnvDuration("CCBRIDGE_POLL_DEVICE_INTERVAL", 0),
			Jitter:         getEnvDuration("CCBRIDGE_POLL_JITTER", 0),
		},
		MQTT: MQTTConfig{
			Enabled:     getEnvBool("CCBRIDGE_MQTT_ENABLED", false),
			Host:        getEnv("CCBRIDGE_MQTT_HOST", ""),
			Port:        getEnvInt("CCBRIDGE_MQTT_PORT", 0),
			Username:    getEnv("CCBRIDGE_MQTT_USERNAME", ""),
			Password:    getEnv("CCBRIDGE_MQTT_PASSWORD", ""),
			ClientID:    getEnv("CCBRIDGE_MQTT_CLIENT_ID", ""),
			TLS:         getEnvBool("CCBRIDGE_MQTT_TLS", false),
			QoS:         getEnvInt("CCBRIDGE_MQTT_QOS", 0),
			TopicPrefix: getEnv("CCBRIDGE_MQTT_TOPIC_PREFIX", ""),
		},
		InfluxDB: InfluxDBConfig{
			Enabled: getEnvBool("CCBRIDGE_INFLUXDB_ENABLED", false),
			URL:     getEnv("CCBRIDGE_INFLUXDB_URL", ""),
			Token:   getEnv("CCBRIDGE_INFLUXDB_TOKEN", ""),
			Org:     getEnv("CCBRIDGE_INFLUXDB_ORG", ""),
			Bucket:  getEnv("CCBRIDGE_INFLUXDB_BUCKET", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("CCBRIDGE_LOG_LEVEL", "info"),
			Format: getEnv("CCBRIDGE_LOG_FORMAT", "text"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
