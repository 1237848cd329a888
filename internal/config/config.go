package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjannette/shares-trader/internal/models"
)

type Config struct {
	// Secrets (from .env)
	PrivateKey      string
	BackendToken    string
	APIKey          string
	CORSAllowOrigin string

	// Database (optional direct reads from the backend's Postgres)
	UseDatabase bool
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string

	// Blockchain
	EthereumAPIEndpoint string
	ChainID             int
	TokenAddress        string
	GasLimit            int
	GasMultiplier       float64

	// Backend
	BackendURL  string
	CandlePath  string
	VolumePath  string
	FeedURL     string
	ArtistID    string

	// Market data
	DefaultTimeframe    string
	RealtimeWindowHours int
	HistoryRefresh      time.Duration
	DedupCapacity       int

	// Trading
	DefaultSlippagePercent float64
	QuoteMaxAge            time.Duration
	MaxTradeUSD            float64

	// Notifications
	WebhookURL string
	NotifyName string

	// API
	APIPort int

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads .env, then an optional YAML file named by CONFIG_FILE, then the
// process environment. Environment variables win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readYAML(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{
		// Secrets
		PrivateKey:      src.str("PRIVATE_KEY", ""),
		BackendToken:    src.str("BACKEND_TOKEN", ""),
		APIKey:          src.str("API_KEY", ""),
		CORSAllowOrigin: src.str("CORS_ALLOW_ORIGIN", "*"),

		// Database
		UseDatabase: src.bool("USE_DATABASE", false),
		DBHost:      src.str("DB_HOST", "localhost"),
		DBPort:      src.int("DB_PORT", 5432),
		DBName:      src.str("DB_NAME", "musicapp"),
		DBUser:      src.str("DB_USER", ""),
		DBPassword:  src.str("DB_PASSWORD", ""),

		// Blockchain
		EthereumAPIEndpoint: src.str("ETHEREUM_API_ENDPOINT", ""),
		ChainID:             src.int("CHAIN_ID", 11155111),
		TokenAddress:        src.str("TOKEN_ADDRESS", ""),
		GasLimit:            src.int("GAS_LIMIT", 300000),
		GasMultiplier:       src.float("GAS_MULTIPLIER", 1.2),

		// Backend
		BackendURL: src.str("BACKEND_URL", "http://localhost:8080"),
		CandlePath: src.str("CANDLE_PATH", "/api/artists/candleData"),
		VolumePath: src.str("VOLUME_PATH", "/api/blockchain/financials/by-user/"),
		FeedURL:    src.str("FEED_URL", "ws://localhost:8080/ws/websocket"),
		ArtistID:   src.str("ARTIST_ID", ""),

		// Market data
		DefaultTimeframe:    src.str("DEFAULT_TIMEFRAME", "5m"),
		RealtimeWindowHours: src.int("REALTIME_WINDOW_HOURS", 2),
		HistoryRefresh:      src.duration("HISTORY_REFRESH", 30*time.Second),
		DedupCapacity:       src.int("DEDUP_CAPACITY", 4096),

		// Trading
		DefaultSlippagePercent: src.float("DEFAULT_SLIPPAGE_PERCENT", 2),
		QuoteMaxAge:            src.duration("QUOTE_MAX_AGE", 30*time.Second),
		MaxTradeUSD:            src.float("MAX_TRADE_USD", 0),

		// Notifications
		WebhookURL: src.str("WEBHOOK_URL", ""),
		NotifyName: src.str("NOTIFY_NAME", "SharesTrader"),

		// API
		APIPort: src.int("API_PORT", 3001),

		// Logging
		LogLevel: src.str("LOG_LEVEL", "info"),
		LogFile:  src.str("LOG_FILE", "logs/trader.log"),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.EthereumAPIEndpoint == "" {
		errs = append(errs, "ETHEREUM_API_ENDPOINT is required")
	}
	if !common.IsHexAddress(c.TokenAddress) {
		errs = append(errs, fmt.Sprintf("TOKEN_ADDRESS %q is not a valid address", c.TokenAddress))
	}
	if c.ArtistID == "" {
		errs = append(errs, "ARTIST_ID is required")
	}
	if !c.UseDatabase && c.BackendURL == "" {
		errs = append(errs, "BACKEND_URL is required unless USE_DATABASE is set")
	}
	if _, err := models.ParseTimeframe(c.DefaultTimeframe); err != nil {
		errs = append(errs, fmt.Sprintf("DEFAULT_TIMEFRAME: %v", err))
	}
	if c.RealtimeWindowHours <= 0 {
		errs = append(errs, "REALTIME_WINDOW_HOURS must be positive")
	}
	if c.DefaultSlippagePercent < 0 || c.DefaultSlippagePercent > 100 {
		errs = append(errs, "DEFAULT_SLIPPAGE_PERCENT must be within [0, 100]")
	}
	if c.MaxTradeUSD < 0 {
		errs = append(errs, "MAX_TRADE_USD must not be negative")
	}
	if c.DedupCapacity <= 0 {
		errs = append(errs, "DEDUP_CAPACITY must be positive")
	}
	if c.PrivateKey == "" {
		fmt.Println("[WARN] PRIVATE_KEY not set, quotes only (submission disabled)")
	}
	if c.APIKey == "" {
		fmt.Println("[WARN] API_KEY not set, REST API has no authentication")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== Artist Shares Trader Configuration ===")
	fmt.Printf("Chain ID: %d\n", c.ChainID)
	fmt.Printf("Token: %s...\n", truncAddr(c.TokenAddress))
	fmt.Printf("Artist: %s\n", c.ArtistID)
	fmt.Printf("Submission: %s\n", boolLabel(c.PrivateKey != "", "enabled", "disabled (no key)"))
	fmt.Println("--------------------------------------")
	fmt.Println("Market Data:")
	fmt.Printf("  Source: %s\n", boolLabel(c.UseDatabase, "database", c.BackendURL))
	fmt.Printf("  Feed: %s\n", c.FeedURL)
	fmt.Printf("  Timeframe: %s\n", c.DefaultTimeframe)
	fmt.Printf("  Realtime window: %dh\n", c.RealtimeWindowHours)
	fmt.Printf("  History refresh: %s\n", c.HistoryRefresh)
	fmt.Println("--------------------------------------")
	fmt.Println("Trading:")
	fmt.Printf("  Default slippage: %.1f%%\n", c.DefaultSlippagePercent)
	fmt.Printf("  Quote max age: %s\n", c.QuoteMaxAge)
	if c.MaxTradeUSD > 0 {
		fmt.Printf("  Max trade: $%.2f\n", c.MaxTradeUSD)
	}
	fmt.Printf("  Notifications: %s\n", boolLabel(c.WebhookURL != "", "webhook", "log only"))
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) RealtimeWindow() time.Duration {
	return time.Duration(c.RealtimeWindowHours) * time.Hour
}

// --- helpers ---

// source resolves a key from the environment first, then the YAML file.
type source struct {
	file map[string]string
}

func readYAML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) str(key, fallback string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (s source) int(key string, fallback int) int {
	if v := s.lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (s source) float(key string, fallback float64) float64 {
	if v := s.lookup(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (s source) bool(key string, fallback bool) bool {
	if v := s.lookup(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

// duration accepts Go durations ("45s") or a bare number of seconds.
func (s source) duration(key string, fallback time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func truncAddr(addr string) string {
	if len(addr) > 10 {
		return addr[:10]
	}
	return addr
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
