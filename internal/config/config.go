package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide settings loaded once at startup.
type Config struct {
	AppEnv           string
	LogLevel         string
	HTTPListenAddr   string
	HTTPBasePath     string
	AdminToken       string
	MetricsNamespace string

	Messenger       string
	PollInterval    time.Duration
	PollConcurrency int
	SeenMessageTTL  time.Duration

	FacebookGraphURL  string
	FacebookPageID    string
	FacebookPageName  string
	FacebookUserToken string
	FacebookTimeout   time.Duration

	WhatsAppStorePath string
	WhatsAppLogLevel  string

	StoreDriver    string
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	WalletRPCURL      string
	WalletRPCUser     string
	WalletRPCPassword string
	WalletMinConf     int
	WalletTimeout     time.Duration

	AddrCheckBaseURL  string
	AddrCheckTimeout  time.Duration
	AddrCheckCacheTTL time.Duration

	Coin CoinProfile
}

// Supported values for MESSENGER and STORE_DRIVER.
const (
	MessengerFacebook = "facebook"
	MessengerWhatsApp = "whatsapp"

	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var errs []error
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		HTTPBasePath:     os.Getenv("HTTP_BASE_PATH"),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "tipbot"),

		Messenger: strings.ToLower(getEnv("MESSENGER", MessengerFacebook)),

		FacebookGraphURL:  getEnv("FACEBOOK_GRAPH_URL", "https://graph.facebook.com/v19.0"),
		FacebookPageID:    os.Getenv("FACEBOOK_PAGE_ID"),
		FacebookPageName:  os.Getenv("FACEBOOK_PAGE_NAME"),
		FacebookUserToken: os.Getenv("FACEBOOK_USER_TOKEN"),

		WhatsAppStorePath: getEnv("WHATSAPP_STORE_PATH", "data/whatsapp.db"),
		WhatsAppLogLevel:  getEnv("WHATSAPP_LOG_LEVEL", "INFO"),

		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StoreRedis)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DatabaseSchema: os.Getenv("DATABASE_SCHEMA"),
		SQLitePath:     getEnv("SQLITE_PATH", "data/tipbot.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		WalletRPCURL:      getEnv("WALLET_RPC_URL", "http://127.0.0.1:22555"),
		WalletRPCUser:     os.Getenv("WALLET_RPC_USER"),
		WalletRPCPassword: os.Getenv("WALLET_RPC_PASSWORD"),

		AddrCheckBaseURL: getEnv("ADDRCHECK_BASE_URL", "https://dogechain.info/chain/Dogecoin/q/checkaddress"),
	}

	cfg.PollInterval = durationEnv("POLL_INTERVAL", 15*time.Second, &errs)
	cfg.PollConcurrency = intEnv("POLL_CONCURRENCY", 4, &errs)
	cfg.SeenMessageTTL = durationEnv("SEEN_MESSAGE_TTL", 10*time.Minute, &errs)
	cfg.FacebookTimeout = durationEnv("FACEBOOK_TIMEOUT", 15*time.Second, &errs)
	cfg.RedisDB = intEnv("REDIS_DB", 0, &errs)
	cfg.RedisTLS = boolEnv("REDIS_TLS", false, &errs)
	cfg.WalletMinConf = intEnv("WALLET_MIN_CONF", 1, &errs)
	cfg.WalletTimeout = durationEnv("WALLET_TIMEOUT", 30*time.Second, &errs)
	cfg.AddrCheckTimeout = durationEnv("ADDRCHECK_TIMEOUT", 10*time.Second, &errs)
	cfg.AddrCheckCacheTTL = durationEnv("ADDRCHECK_CACHE_TTL", 24*time.Hour, &errs)

	coin, err := LoadCoinProfile(os.Getenv("COIN_PROFILE_PATH"))
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.Coin = coin
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Messenger {
	case MessengerFacebook:
		if c.FacebookPageID == "" || c.FacebookUserToken == "" {
			return errors.New("FACEBOOK_PAGE_ID and FACEBOOK_USER_TOKEN are required for the facebook messenger")
		}
	case MessengerWhatsApp:
	default:
		return fmt.Errorf("unsupported MESSENGER %q", c.Messenger)
	}

	switch c.StoreDriver {
	case StoreRedis, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	if c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}
	if c.PollConcurrency <= 0 {
		return errors.New("POLL_CONCURRENCY must be positive")
	}
	if c.WalletRPCURL == "" {
		return errors.New("WALLET_RPC_URL is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return d
}

func intEnv(key string, fallback int, errs *[]error) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return n
}

func boolEnv(key string, fallback bool, errs *[]error) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return b
}
