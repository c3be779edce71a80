package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port          string
	DatabaseURL   string
	LocalTimezone *time.Location

	// Council schedule feed.
	ScheduleBaseURL string
	PropertyID      string
	FetchTimeout    time.Duration
	CacheTTL        time.Duration

	// Display device.
	DeviceEndpoint   string
	DeviceToken      string
	DeviceTitleField string
	DeviceBodyField  string

	// Pipeline.
	UpdateCron   string
	WritesPerSec int
	APIToken     string

	// Optional WhatsApp alerts on failed scheduled runs.
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioWhatsAppNumber string
	AlertWhatsAppTo      string
}

// Load reads configuration values and prepares defaults where applicable.
func Load() *Config {
	_ = godotenv.Load()

	timezoneName := getenvDefault("LOCAL_TIMEZONE", "Local")
	location, err := time.LoadLocation(timezoneName)
	if err != nil {
		log.Printf("config: invalid LOCAL_TIMEZONE %q, defaulting to system local: %v", timezoneName, err)
		location = time.Local
	}

	return &Config{
		Port:          getenvDefault("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		LocalTimezone: location,

		ScheduleBaseURL: os.Getenv("SCHEDULE_BASE_URL"),
		PropertyID:      os.Getenv("PROPERTY_ID"),
		FetchTimeout:    time.Duration(ParseIntEnv("FETCH_TIMEOUT_SECONDS", 5)) * time.Second,
		CacheTTL:        time.Duration(ParseIntEnv("CACHE_TTL_HOURS", 12)) * time.Hour,

		DeviceEndpoint:   os.Getenv("DEVICE_ENDPOINT"),
		DeviceToken:      os.Getenv("DEVICE_TOKEN"),
		DeviceTitleField: getenvDefault("DEVICE_TITLE_FIELD", "title"),
		DeviceBodyField:  getenvDefault("DEVICE_BODY_FIELD", "message"),

		UpdateCron:   getenvDefault("UPDATE_CRON", "0 7 * * *"),
		WritesPerSec: ParseIntEnv("WRITES_PER_SEC", 5),
		APIToken:     os.Getenv("API_TOKEN"),

		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWhatsAppNumber: os.Getenv("TWILIO_WHATSAPP_NUMBER"),
		AlertWhatsAppTo:      os.Getenv("ALERT_WHATSAPP_TO"),
	}
}

func getenvDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

// ParseIntEnv returns the integer value for an environment variable or the provided default.
func ParseIntEnv(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as int: %v", key, value, err)
		return def
	}
	return parsed
}
