package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
)

// Chain holds the base-chain constants the contracts depend on.
type Chain struct {
	// BlockTimeSeconds drives the price day window: 3600*24/BlockTimeSeconds + 1.
	BlockTimeSeconds int
	BlockReward      uint64
	GenesisAlloc     uint64
	MinTxFee         uint64
	// SmoothWidth only widens the sample span kept for correlation (Span and
	// the feeds dump). Smoothing always averages DayWindow correlated values.
	SmoothWidth int
}

// DayWindow is the number of samples used by correlation and smoothing.
func (c Chain) DayWindow() int {
	return 3600*24/c.BlockTimeSeconds + 1
}

// Contracts replaces the enable/disable and activation tables with an explicit
// per-chain object handed to the registry.
type Contracts struct {
	Disabled         map[uint8]bool
	ActivationHeight map[uint8]uint64
	// UserCodes are user-range eval codes derived eagerly at registry init.
	UserCodes []uint8
	// Published pins expected unspendable addresses (EIP-55 hex) per eval code.
	Published map[uint8]string
}

type Prices struct {
	TxFee                uint64
	MaxLeverage          int
	MinAvailFundFraction decimal.Decimal
	MarginDivisor        uint64
	CostBasisWindow      uint64
	PriceRefLag          uint64
	GenesisFund          uint64
	Feeds                []Feed
}

type Feed struct {
	Name string
	Mult int64
}

type Node struct {
	SingleNode bool
	// MinBlockTime throttles devnet block production.
	MinBlockTime time.Duration
	DataDir      string
	// WalletKeyHex is the node wallet private key; empty means generate one.
	WalletKeyHex string
	PriceSeed    int64
	// LogLevel is a zap level name; LogFile defaults to DataDir/node.log.
	LogLevel string
	LogFile  string
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Config struct {
	Chain     Chain
	Contracts Contracts
	Prices    Prices
	Node      Node
	API       API
}

func DefaultFeeds() []Feed {
	return []Feed{
		{Name: "BTC_USD", Mult: 10000},
		{Name: "ETH_USD", Mult: 10000},
		{Name: "KMD_USD", Mult: 10000},
		{Name: "EUR_USD", Mult: 10000},
		{Name: "XAU_USD", Mult: 10000},
	}
}

func Default() Config {
	return Config{
		Chain: Chain{
			BlockTimeSeconds: 60,
			BlockReward:      3 * 100000000,
			GenesisAlloc:     1000000 * 100000000,
			MinTxFee:         10000,
			SmoothWidth:      1,
		},
		Contracts: Contracts{
			Disabled:         map[uint8]bool{},
			ActivationHeight: map[uint8]uint64{},
			Published:        map[uint8]string{},
		},
		Prices: Prices{
			TxFee:                10000,
			MaxLeverage:          777,
			MinAvailFundFraction: decimal.RequireFromString("0.1"),
			MarginDivisor:        100,
			CostBasisWindow:      1441,
			PriceRefLag:          10,
			GenesisFund:          100000 * 100000000,
			Feeds:                DefaultFeeds(),
		},
		Node: Node{
			SingleNode:   true,
			MinBlockTime: 1 * time.Second,
			DataDir:      "data",
			PriceSeed:    1,
			LogLevel:     "info",
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// Validate checks derived constants that the price pipeline relies on.
func (c Config) Validate() error {
	if c.Chain.BlockTimeSeconds <= 0 {
		return fmt.Errorf("block time must be positive, got %d", c.Chain.BlockTimeSeconds)
	}
	if dw := c.Chain.DayWindow(); dw < 7 {
		return fmt.Errorf("day window %d is too small (block time %ds)", dw, c.Chain.BlockTimeSeconds)
	}
	if c.Prices.MaxLeverage <= 0 {
		return fmt.Errorf("max leverage must be positive")
	}
	if c.Prices.MarginDivisor == 0 {
		return fmt.Errorf("margin divisor must be positive")
	}
	if c.Prices.MinAvailFundFraction.IsNegative() || c.Prices.MinAvailFundFraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("fund fraction %s outside [0,1]", c.Prices.MinAvailFundFraction)
	}
	if len(c.Prices.Feeds) == 0 {
		return fmt.Errorf("no price feeds configured")
	}
	if _, err := zapcore.ParseLevel(c.Node.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("CHAIN_BLOCK_TIME_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chain.BlockTimeSeconds = n
		}
	}
	if v := os.Getenv("CHAIN_BLOCK_REWARD"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Chain.BlockReward = n
		}
	}
	if v := os.Getenv("CHAIN_GENESIS_ALLOC"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Chain.GenesisAlloc = n
		}
	}

	if v := os.Getenv("CC_DISABLED"); v != "" {
		for _, code := range parseCodes(v) {
			cfg.Contracts.Disabled[code] = true
		}
	}
	if v := os.Getenv("CC_USER_CODES"); v != "" {
		cfg.Contracts.UserCodes = parseCodes(v)
	}
	// CC_ACTIVATION="0xed:100,0x10:2000"
	if v := os.Getenv("CC_ACTIVATION"); v != "" {
		for _, pair := range strings.Split(v, ",") {
			parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
			if len(parts) != 2 {
				continue
			}
			codes := parseCodes(parts[0])
			h, err := strconv.ParseUint(parts[1], 10, 64)
			if len(codes) == 1 && err == nil {
				cfg.Contracts.ActivationHeight[codes[0]] = h
			}
		}
	}

	if v := os.Getenv("PRICES_MIN_AVAIL_FUND_FRACTION"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.Prices.MinAvailFundFraction = d
		}
	}
	if v := os.Getenv("PRICES_COSTBASIS_WINDOW"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Prices.CostBasisWindow = n
		}
	}
	if v := os.Getenv("PRICES_GENESIS_FUND"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Prices.GenesisFund = n
		}
	}
	// PRICES_FEEDS="BTC_USD,ETH_USD"
	if v := os.Getenv("PRICES_FEEDS"); v != "" {
		var feeds []Feed
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				feeds = append(feeds, Feed{Name: name, Mult: 10000})
			}
		}
		if len(feeds) > 0 {
			cfg.Prices.Feeds = feeds
		}
	}

	if minBlock := os.Getenv("NODE_MIN_BLOCK_TIME_MS"); minBlock != "" {
		if ms, err := strconv.Atoi(minBlock); err == nil {
			cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
		}
	}
	if singleNode := os.Getenv("SINGLE_NODE"); singleNode != "" {
		cfg.Node.SingleNode = singleNode == "true"
	}
	cfg.Node.DataDir = getEnv("NODE_DATA_DIR", cfg.Node.DataDir)
	cfg.Node.WalletKeyHex = getEnv("NODE_WALLET_KEY", cfg.Node.WalletKeyHex)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	if v := os.Getenv("NODE_PRICE_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Node.PriceSeed = n
		}
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = strings.Split(v, ",")
	}

	return cfg
}

// parseCodes accepts hex ("0xed") or decimal eval codes separated by commas.
func parseCodes(s string) []uint8 {
	var out []uint8
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		n, err := strconv.ParseUint(tok, 0, 8)
		if err != nil {
			continue
		}
		out = append(out, uint8(n))
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
