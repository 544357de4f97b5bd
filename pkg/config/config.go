package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Backend  BackendConfig
	Display  DisplayConfig
	Poller   PollerConfig
	Kiosk    KioskConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Legend   Legend
}

// BackendConfig points at the device backend that owns weather data and the LEDs
type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

type DisplayConfig struct {
	SessionID   string // empty generates one per process
	ContainerID string
	Host        string
	Port        int
	LegendFile  string
	TimeZone    string
}

// Addr returns the listen address of the local display surface
func (d DisplayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Location resolves TimeZone, falling back to the process local zone
func (d DisplayConfig) Location() *time.Location {
	if d.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(d.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

type PollerConfig struct {
	Interval         time.Duration
	DefaultThreshold float64 // minutes
}

type KioskConfig struct {
	IdleDuration    time.Duration
	TickInterval    time.Duration
	MessageLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	TopicEvents string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Backend: BackendConfig{
			BaseURL:        strings.TrimRight(getEnv("METARMAP_BACKEND_URL", "http://localhost:80"), "/"),
			RequestTimeout: getEnvAsDuration("METARMAP_REQUEST_TIMEOUT", 15*time.Second),
		},
		Display: DisplayConfig{
			SessionID:   getEnv("METARMAP_SESSION_ID", ""),
			ContainerID: getEnv("METARMAP_MAP_CONTAINER", "airport-map"),
			Host:        getEnv("METARMAP_HOST", "0.0.0.0"),
			Port:        getEnvAsInt("METARMAP_PORT", 8090),
			LegendFile:  getEnv("METARMAP_LEGEND_FILE", "legend.yaml"),
			TimeZone:    getEnv("METARMAP_TIMEZONE", ""),
		},
		Poller: PollerConfig{
			Interval:         getEnvAsDuration("WEATHER_POLL_INTERVAL", 30*time.Second),
			DefaultThreshold: getEnvAsFloat("WEATHER_UPDATE_THRESHOLD", 10),
		},
		Kiosk: KioskConfig{
			IdleDuration:    getEnvAsDuration("KIOSK_IDLE_DURATION", 600*time.Second),
			TickInterval:    getEnvAsDuration("KIOSK_TICK_INTERVAL", time.Second),
			MessageLifetime: getEnvAsDuration("KIOSK_MESSAGE_LIFETIME", 5*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled:     getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:     strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicEvents: getEnv("KAFKA_TOPIC_EVENTS", "metarmap.display.events"),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "metarmap"),
			Password: getEnv("DB_PASSWORD", "metarmap"),
			DBName:   getEnv("DB_NAME", "metarmap"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
	}

	legend, err := LoadLegend(config.Display.LegendFile)
	if err != nil {
		return nil, err
	}
	config.Legend = legend

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
