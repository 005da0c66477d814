// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Mode gates real order placement.
const (
	ModeDryRun = "dry_run"
	ModeLive   = "live"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Fees       FeesConfig       `toml:"fees"`
	Risk       RiskConfig       `toml:"risk"`
	Matcher    MatcherConfig    `toml:"matcher"`
	Execution  ExecutionConfig  `toml:"execution"`
	Breaker    BreakerConfig    `toml:"breaker"`
	WS         WSConfig         `toml:"ws"`
	State      StateConfig      `toml:"state"`
	Notify     NotifyConfig     `toml:"notify"`
	Archive    ArchiveConfig    `toml:"archive"`

	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints and wallet credentials.
type PolymarketConfig struct {
	ClobHost         string `toml:"clob_host"`
	WsHost           string `toml:"ws_host"`
	ChainID          int    `toml:"chain_id"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ReadRatePerSec   int    `toml:"read_rate_per_sec"`
	WriteRatePerSec  int    `toml:"write_rate_per_sec"`
}

// KalshiConfig holds Kalshi exchange API credentials and endpoints.
type KalshiConfig struct {
	BaseURL           string `toml:"base_url"`
	WsURL             string `toml:"ws_url"`
	ApiKey            string `toml:"api_key"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	ReadRatePerSec    int    `toml:"read_rate_per_sec"`
	WriteRatePerSec   int    `toml:"write_rate_per_sec"`
}

// PostgresConfig holds connection parameters for the event repository.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the live book cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArbitrageConfig holds detection parameters.
type ArbitrageConfig struct {
	MinProfitThreshold float64 `toml:"min_profit_threshold"`
	MinLiquidityDepth  float64 `toml:"min_liquidity_depth"`
	OpportunityTTLMs   int64   `toml:"opportunity_ttl_ms"`
	ScanIntervalMs     int64   `toml:"scan_interval_ms"`
	// RateLimitedBackoffMs slows the scan loop after a hard venue rate limit.
	RateLimitedBackoffMs int64 `toml:"rate_limited_backoff_ms"`
}

// FeesConfig holds the venue fee terms. These track published venue schedules
// and are configuration because venues change them.
type FeesConfig struct {
	PolyTakerRate  float64 `toml:"poly_taker_rate"`
	KalshiFeeRate  float64 `toml:"kalshi_fee_rate"`
	KalshiFeeCap   float64 `toml:"kalshi_fee_cap"`
	GasPerTradeUSD float64 `toml:"gas_per_trade_usd"`
}

// RiskConfig holds the hard limits enforced before every trade.
type RiskConfig struct {
	MaxTotalExposure     float64 `toml:"max_total_exposure"`
	MaxExposurePerEvent  float64 `toml:"max_exposure_per_event"`
	MaxPositionImbalance float64 `toml:"max_position_imbalance"`
	DailyLossLimit       float64 `toml:"daily_loss_limit"`
	MaxQtyPerTrade       float64 `toml:"max_qty_per_trade"`
	MinQtyPerTrade       float64 `toml:"min_qty_per_trade"`
	MinTradeValue        float64 `toml:"min_trade_value"`
	MinProfitAbs         float64 `toml:"min_profit_abs"`
}

// MatcherConfig holds event-matching behavior.
type MatcherConfig struct {
	FuzzyThreshold       float64 `toml:"fuzzy_threshold"`
	MinTradeConfidence   float64 `toml:"min_trade_confidence"`
	DateToleranceHours   int     `toml:"date_tolerance_hours"`
	RequireDateMatch     bool    `toml:"require_date_validation"`
	RequireCategoryMatch bool    `toml:"require_category_match"`
	SynonymsPath         string  `toml:"synonyms_path"`
}

// ExecutionConfig holds latency ceilings and revalidation behavior.
type ExecutionConfig struct {
	MaxSlippage          float64 `toml:"max_slippage"`
	EndToEndMaxMs        int64   `toml:"end_to_end_max_ms"`
	OrderPlacementMaxMs  int64   `toml:"order_placement_max_ms"`
	OrderbookFetchMaxMs  int64   `toml:"orderbook_fetch_max_ms"`
	ReconcileTimeoutMs   int64   `toml:"reconcile_timeout_ms"`
	TrackHypotheticalPnL bool    `toml:"track_hypothetical_pnl"`
}

// BreakerConfig holds circuit-breaker thresholds.
type BreakerConfig struct {
	MaxConsecutiveFailures  int `toml:"max_consecutive_failures"`
	MaxAsymmetricExecutions int `toml:"max_asymmetric_executions"`
}

// WSConfig holds the venue stream reconnect policy.
type WSConfig struct {
	InitialBackoff   duration `toml:"initial_backoff"`
	MaxBackoff       duration `toml:"max_backoff"`
	MaxAttempts      int      `toml:"max_attempts"`
	HeartbeatTimeout duration `toml:"heartbeat_timeout"`
}

// StateConfig holds state-store durability and recovery policy.
type StateConfig struct {
	FilePath           string `toml:"file_path"`
	AutoSaveIntervalS  int    `toml:"auto_save_interval_s"`
	MaxStateAgeMinutes int    `toml:"max_state_age_minutes"`
	MaxSnapshotErrors  int    `toml:"max_snapshot_errors"`
	RequireManualReview bool  `toml:"require_manual_review"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	MinSeverity       string `toml:"min_severity"`
}

// ArchiveConfig holds the execution-record archiver settings.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Prefix  string `toml:"prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:        "https://clob.polymarket.com",
			WsHost:          "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:         137,
			ReadRatePerSec:  10,
			WriteRatePerSec: 4,
		},
		Kalshi: KalshiConfig{
			BaseURL:         "https://api.elections.kalshi.com/trade-api/v2",
			WsURL:           "wss://api.elections.kalshi.com/trade-api/ws/v2",
			ReadRatePerSec:  10,
			WriteRatePerSec: 4,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbot",
			User:          "arbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "arbot-archive",
			ForcePathStyle: true,
		},
		Arbitrage: ArbitrageConfig{
			MinProfitThreshold:   0.03,
			MinLiquidityDepth:    50,
			OpportunityTTLMs:     5000,
			ScanIntervalMs:       2000,
			RateLimitedBackoffMs: 10000,
		},
		Fees: FeesConfig{
			PolyTakerRate:  0.02,
			KalshiFeeRate:  0.07,
			KalshiFeeCap:   0.07,
			GasPerTradeUSD: 0.50,
		},
		Risk: RiskConfig{
			MaxTotalExposure:     1000,
			MaxExposurePerEvent:  250,
			MaxPositionImbalance: 50,
			DailyLossLimit:       100,
			MaxQtyPerTrade:       200,
			MinQtyPerTrade:       5,
			MinTradeValue:        5,
			MinProfitAbs:         0.50,
		},
		Matcher: MatcherConfig{
			FuzzyThreshold:       0.95,
			MinTradeConfidence:   0.95,
			DateToleranceHours:   24,
			RequireDateMatch:     true,
			RequireCategoryMatch: true,
			SynonymsPath:         "synonyms.toml",
		},
		Execution: ExecutionConfig{
			MaxSlippage:          0.25,
			EndToEndMaxMs:        2000,
			OrderPlacementMaxMs:  1500,
			OrderbookFetchMaxMs:  1000,
			ReconcileTimeoutMs:   5000,
			TrackHypotheticalPnL: true,
		},
		Breaker: BreakerConfig{
			MaxConsecutiveFailures:  3,
			MaxAsymmetricExecutions: 1,
		},
		WS: WSConfig{
			InitialBackoff:   duration{1 * time.Second},
			MaxBackoff:       duration{30 * time.Second},
			MaxAttempts:      5,
			HeartbeatTimeout: duration{30 * time.Second},
		},
		State: StateConfig{
			FilePath:            "arbot_state.json",
			AutoSaveIntervalS:   30,
			MaxStateAgeMinutes:  60,
			MaxSnapshotErrors:   5,
			RequireManualReview: true,
		},
		Notify: NotifyConfig{
			MinSeverity: "medium",
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Prefix:  "executions",
		},
		Mode:     ModeDryRun,
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	mode := strings.ToLower(c.Mode)
	if mode != ModeDryRun && mode != ModeLive {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: dry_run, live)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket — wallet credentials are required in live mode.
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if mode == ModeLive {
		if c.Polymarket.PrivateKey == "" && c.Polymarket.EncryptedKeyPath == "" {
			errs = append(errs, "polymarket: either private_key or encrypted_key_path must be set for live mode")
		}
		if c.Polymarket.EncryptedKeyPath != "" && c.Polymarket.KeyPassword == "" {
			errs = append(errs, "polymarket: key_password is required when encrypted_key_path is set")
		}
		if c.Kalshi.ApiKey == "" {
			errs = append(errs, "kalshi: api_key is required for live mode")
		}
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only when archival is on.
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
	}

	// Arbitrage
	if c.Arbitrage.MinProfitThreshold <= 0 {
		errs = append(errs, "arbitrage: min_profit_threshold must be > 0")
	}
	if c.Arbitrage.MinLiquidityDepth < 0 {
		errs = append(errs, "arbitrage: min_liquidity_depth must be >= 0")
	}
	if c.Arbitrage.OpportunityTTLMs <= 0 {
		errs = append(errs, "arbitrage: opportunity_ttl_ms must be > 0")
	}
	if c.Arbitrage.ScanIntervalMs <= 0 {
		errs = append(errs, "arbitrage: scan_interval_ms must be > 0")
	}

	// Fees
	if c.Fees.PolyTakerRate < 0 || c.Fees.PolyTakerRate >= 1 {
		errs = append(errs, "fees: poly_taker_rate must be in [0,1)")
	}
	if c.Fees.KalshiFeeRate < 0 || c.Fees.KalshiFeeRate >= 1 {
		errs = append(errs, "fees: kalshi_fee_rate must be in [0,1)")
	}
	if c.Fees.KalshiFeeCap < 0 {
		errs = append(errs, "fees: kalshi_fee_cap must be >= 0")
	}
	if c.Fees.GasPerTradeUSD < 0 {
		errs = append(errs, "fees: gas_per_trade_usd must be >= 0")
	}

	// Risk
	if c.Risk.MaxTotalExposure <= 0 {
		errs = append(errs, "risk: max_total_exposure must be > 0")
	}
	if c.Risk.MaxExposurePerEvent <= 0 {
		errs = append(errs, "risk: max_exposure_per_event must be > 0")
	}
	if c.Risk.MaxExposurePerEvent > c.Risk.MaxTotalExposure {
		errs = append(errs, "risk: max_exposure_per_event must not exceed max_total_exposure")
	}
	if c.Risk.DailyLossLimit <= 0 {
		errs = append(errs, "risk: daily_loss_limit must be > 0")
	}
	if c.Risk.MinQtyPerTrade <= 0 {
		errs = append(errs, "risk: min_qty_per_trade must be > 0")
	}
	if c.Risk.MaxQtyPerTrade < c.Risk.MinQtyPerTrade {
		errs = append(errs, "risk: max_qty_per_trade must be >= min_qty_per_trade")
	}

	// Matcher
	if c.Matcher.FuzzyThreshold <= 0 || c.Matcher.FuzzyThreshold > 1 {
		errs = append(errs, "matcher: fuzzy_threshold must be in (0,1]")
	}
	if c.Matcher.MinTradeConfidence <= 0 || c.Matcher.MinTradeConfidence > 1 {
		errs = append(errs, "matcher: min_trade_confidence must be in (0,1]")
	}
	if c.Matcher.DateToleranceHours < 0 {
		errs = append(errs, "matcher: date_tolerance_hours must be >= 0")
	}

	// Execution
	if c.Execution.MaxSlippage < 0 || c.Execution.MaxSlippage >= 1 {
		errs = append(errs, "execution: max_slippage must be in [0,1)")
	}
	if c.Execution.EndToEndMaxMs <= 0 {
		errs = append(errs, "execution: end_to_end_max_ms must be > 0")
	}
	if c.Execution.OrderPlacementMaxMs <= 0 {
		errs = append(errs, "execution: order_placement_max_ms must be > 0")
	}

	// Breaker
	if c.Breaker.MaxConsecutiveFailures < 1 {
		errs = append(errs, "breaker: max_consecutive_failures must be >= 1")
	}

	// WS
	if c.WS.InitialBackoff.Duration <= 0 {
		errs = append(errs, "ws: initial_backoff must be > 0")
	}
	if c.WS.MaxBackoff.Duration < c.WS.InitialBackoff.Duration {
		errs = append(errs, "ws: max_backoff must be >= initial_backoff")
	}
	if c.WS.MaxAttempts < 1 {
		errs = append(errs, "ws: max_attempts must be >= 1")
	}

	// State
	if c.State.FilePath == "" {
		errs = append(errs, "state: file_path must not be empty")
	}
	if c.State.AutoSaveIntervalS <= 0 {
		errs = append(errs, "state: auto_save_interval_s must be > 0")
	}
	if c.State.MaxSnapshotErrors < 1 {
		errs = append(errs, "state: max_snapshot_errors must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
