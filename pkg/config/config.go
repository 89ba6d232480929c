package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	LogLevel   string
	CSRF       bool

	APIBaseURL     string
	RequestTimeout time.Duration
	APIRateLimit   float64
	APIRateBurst   int

	StoreDriver     string
	StoreDSN        string
	StorePassphrase string

	DeliveryFee  string
	MenuPublic   bool
	ServerLogout bool
	RoutesFile   string

	KafkaBrokers []string
}

// Load reads .env (if any) and then the process environment.
func Load() Config {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("notice: .env not loaded: %v", err)
	}

	return Config{
		ListenAddr: EnvDefault("LISTEN_ADDR", "127.0.0.1:5173"),
		LogLevel:   EnvDefault("LOG_LEVEL", "info"),
		CSRF:       EnvBoolDefault("CSRF_ENABLED", true),

		APIBaseURL:     os.Getenv("API_BASE_URL"),
		RequestTimeout: time.Duration(EnvIntDefault("REQUEST_TIMEOUT_MS", 10000)) * time.Millisecond,
		APIRateLimit:   EnvFloatDefault("API_RATE_LIMIT", 0),
		APIRateBurst:   EnvIntDefault("API_RATE_BURST", 10),

		StoreDriver:     EnvDefault("STORE_DRIVER", "sqlite"),
		StoreDSN:        EnvDefault("STORE_DSN", "foodie.db"),
		StorePassphrase: os.Getenv("STORE_PASSPHRASE"),

		DeliveryFee:  EnvDefault("DELIVERY_FEE", "40"),
		MenuPublic:   EnvBoolDefault("MENU_PUBLIC", false),
		ServerLogout: EnvBoolDefault("SERVER_LOGOUT", true),
		RoutesFile:   os.Getenv("ROUTES_FILE"),

		KafkaBrokers: CSV(os.Getenv("KAFKA_BROKERS")),
	}
}

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func EnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func EnvFloatDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func EnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
