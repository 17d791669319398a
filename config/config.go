package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	CORS         CORSConfig
	MQTT         MQTTConfig
	Routing      RoutingConfig
	Analytics    AnalyticsConfig
	Tracing      TracingConfig
	LogLevel     string
	StationsFile string
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins string
}

// MQTTConfig is optional; an empty URL disables the telemetry subscriber.
type MQTTConfig struct {
	URL      string
	Topic    string
	ClientID string
}

type RoutingConfig struct {
	BaseURL   string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// AnalyticsConfig carries the deployment-specific geography and capacity used by
// the per-bus analytics. The defaults reproduce the original deployment.
type AnalyticsConfig struct {
	Capacity        int
	MetersPerDegree float64
	Timezone        string
	TerminalMinLat  float64
	TerminalMaxLat  float64
	TerminalMinLng  float64
	TerminalMaxLng  float64
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

func LoadConfig() (*Config, error) {
	serverPort, err := getIntEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	dbPort, err := getIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	redisPort, err := getIntEnv("REDIS_PORT", 6379)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}

	redisDB, err := getIntEnv("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	routeTimeout, err := getDurationEnv("ROUTING_TIMEOUT", 8*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid ROUTING_TIMEOUT: %w", err)
	}

	routeCacheSize, err := getIntEnv("ROUTING_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("invalid ROUTING_CACHE_SIZE: %w", err)
	}

	routeCacheTTL, err := getDurationEnv("ROUTING_CACHE_TTL", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid ROUTING_CACHE_TTL: %w", err)
	}

	capacity, err := getIntEnv("BUS_CAPACITY", 40)
	if err != nil {
		return nil, fmt.Errorf("invalid BUS_CAPACITY: %w", err)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid BUS_CAPACITY: must be positive, got %d", capacity)
	}

	analytics := AnalyticsConfig{
		Capacity: capacity,
		Timezone: getEnv("ANALYTICS_TIMEZONE", "Asia/Manila"),
	}
	floats := []struct {
		key      string
		fallback float64
		dest     *float64
	}{
		{"METERS_PER_DEGREE", 111000, &analytics.MetersPerDegree},
		{"TERMINAL_MIN_LAT", 14.410, &analytics.TerminalMinLat},
		{"TERMINAL_MAX_LAT", 14.420, &analytics.TerminalMaxLat},
		{"TERMINAL_MIN_LNG", 121.035, &analytics.TerminalMinLng},
		{"TERMINAL_MAX_LNG", 121.048, &analytics.TerminalMaxLng},
	}
	for _, f := range floats {
		v, err := getFloatEnv(f.key, f.fallback)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dest = v
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: serverPort,
		},
		Database: DatabaseConfig{
			Enabled:  getBoolEnv("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "transtrack"),
			Password: getEnv("DB_PASSWORD", "transtrack_dev_password"),
			Name:     getEnv("DB_NAME", "transtrack"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     redisPort,
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		MQTT: MQTTConfig{
			URL:      getEnv("MQTT_URL", ""),
			Topic:    getEnv("MQTT_TOPIC", "transtrack/buses/+/telemetry"),
			ClientID: getEnv("MQTT_CLIENT_ID", "transtrack-api"),
		},
		Routing: RoutingConfig{
			BaseURL:   getEnv("ROUTING_BASE_URL", "https://router.project-osrm.org"),
			Timeout:   routeTimeout,
			CacheSize: routeCacheSize,
			CacheTTL:  routeCacheTTL,
		},
		Analytics: analytics,
		Tracing: TracingConfig{
			Enabled:  getBoolEnv("OTEL_TRACING_ENABLED", false),
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		StationsFile: getEnv("STATIONS_FILE", ""),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getIntEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func getFloatEnv(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(value, 64)
}

func getDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}

func getBoolEnv(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
