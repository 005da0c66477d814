package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "ARBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.WsHost, "ARBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "ARBOT_POLYMARKET_CHAIN_ID")
	setStr(&cfg.Polymarket.PrivateKey, "ARBOT_POLYMARKET_PRIVATE_KEY")
	setStr(&cfg.Polymarket.EncryptedKeyPath, "ARBOT_POLYMARKET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Polymarket.KeyPassword, "ARBOT_POLYMARKET_KEY_PASSWORD")
	setInt(&cfg.Polymarket.ReadRatePerSec, "ARBOT_POLYMARKET_READ_RATE_PER_SEC")
	setInt(&cfg.Polymarket.WriteRatePerSec, "ARBOT_POLYMARKET_WRITE_RATE_PER_SEC")

	// ── Kalshi ──
	setStr(&cfg.Kalshi.BaseURL, "ARBOT_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WsURL, "ARBOT_KALSHI_WS_URL")
	setStr(&cfg.Kalshi.ApiKey, "ARBOT_KALSHI_API_KEY")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "ARBOT_KALSHI_RSA_PRIVATE_KEY_PATH")
	setInt(&cfg.Kalshi.ReadRatePerSec, "ARBOT_KALSHI_READ_RATE_PER_SEC")
	setInt(&cfg.Kalshi.WriteRatePerSec, "ARBOT_KALSHI_WRITE_RATE_PER_SEC")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "ARBOT_S3_FORCE_PATH_STYLE")

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.MinProfitThreshold, "ARBOT_ARBITRAGE_MIN_PROFIT_THRESHOLD")
	setFloat64(&cfg.Arbitrage.MinLiquidityDepth, "ARBOT_ARBITRAGE_MIN_LIQUIDITY_DEPTH")
	setInt64(&cfg.Arbitrage.OpportunityTTLMs, "ARBOT_ARBITRAGE_OPPORTUNITY_TTL_MS")
	setInt64(&cfg.Arbitrage.ScanIntervalMs, "ARBOT_ARBITRAGE_SCAN_INTERVAL_MS")
	setInt64(&cfg.Arbitrage.RateLimitedBackoffMs, "ARBOT_ARBITRAGE_RATE_LIMITED_BACKOFF_MS")

	// ── Fees ──
	setFloat64(&cfg.Fees.PolyTakerRate, "ARBOT_FEES_POLY_TAKER_RATE")
	setFloat64(&cfg.Fees.KalshiFeeRate, "ARBOT_FEES_KALSHI_FEE_RATE")
	setFloat64(&cfg.Fees.KalshiFeeCap, "ARBOT_FEES_KALSHI_FEE_CAP")
	setFloat64(&cfg.Fees.GasPerTradeUSD, "ARBOT_FEES_GAS_PER_TRADE_USD")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxTotalExposure, "ARBOT_RISK_MAX_TOTAL_EXPOSURE")
	setFloat64(&cfg.Risk.MaxExposurePerEvent, "ARBOT_RISK_MAX_EXPOSURE_PER_EVENT")
	setFloat64(&cfg.Risk.MaxPositionImbalance, "ARBOT_RISK_MAX_POSITION_IMBALANCE")
	setFloat64(&cfg.Risk.DailyLossLimit, "ARBOT_RISK_DAILY_LOSS_LIMIT")
	setFloat64(&cfg.Risk.MaxQtyPerTrade, "ARBOT_RISK_MAX_QTY_PER_TRADE")
	setFloat64(&cfg.Risk.MinQtyPerTrade, "ARBOT_RISK_MIN_QTY_PER_TRADE")
	setFloat64(&cfg.Risk.MinTradeValue, "ARBOT_RISK_MIN_TRADE_VALUE")
	setFloat64(&cfg.Risk.MinProfitAbs, "ARBOT_RISK_MIN_PROFIT_ABS")

	// ── Matcher ──
	setFloat64(&cfg.Matcher.FuzzyThreshold, "ARBOT_MATCHER_FUZZY_THRESHOLD")
	setFloat64(&cfg.Matcher.MinTradeConfidence, "ARBOT_MATCHER_MIN_TRADE_CONFIDENCE")
	setInt(&cfg.Matcher.DateToleranceHours, "ARBOT_MATCHER_DATE_TOLERANCE_HOURS")
	setBool(&cfg.Matcher.RequireDateMatch, "ARBOT_MATCHER_REQUIRE_DATE_VALIDATION")
	setBool(&cfg.Matcher.RequireCategoryMatch, "ARBOT_MATCHER_REQUIRE_CATEGORY_MATCH")
	setStr(&cfg.Matcher.SynonymsPath, "ARBOT_MATCHER_SYNONYMS_PATH")

	// ── Execution ──
	setFloat64(&cfg.Execution.MaxSlippage, "ARBOT_EXECUTION_MAX_SLIPPAGE")
	setInt64(&cfg.Execution.EndToEndMaxMs, "ARBOT_EXECUTION_END_TO_END_MAX_MS")
	setInt64(&cfg.Execution.OrderPlacementMaxMs, "ARBOT_EXECUTION_ORDER_PLACEMENT_MAX_MS")
	setInt64(&cfg.Execution.OrderbookFetchMaxMs, "ARBOT_EXECUTION_ORDERBOOK_FETCH_MAX_MS")
	setInt64(&cfg.Execution.ReconcileTimeoutMs, "ARBOT_EXECUTION_RECONCILE_TIMEOUT_MS")
	setBool(&cfg.Execution.TrackHypotheticalPnL, "ARBOT_EXECUTION_TRACK_HYPOTHETICAL_PNL")

	// ── Breaker ──
	setInt(&cfg.Breaker.MaxConsecutiveFailures, "ARBOT_BREAKER_MAX_CONSECUTIVE_FAILURES")
	setInt(&cfg.Breaker.MaxAsymmetricExecutions, "ARBOT_BREAKER_MAX_ASYMMETRIC_EXECUTIONS")

	// ── WS ──
	setDuration(&cfg.WS.InitialBackoff, "ARBOT_WS_INITIAL_BACKOFF")
	setDuration(&cfg.WS.MaxBackoff, "ARBOT_WS_MAX_BACKOFF")
	setInt(&cfg.WS.MaxAttempts, "ARBOT_WS_MAX_ATTEMPTS")
	setDuration(&cfg.WS.HeartbeatTimeout, "ARBOT_WS_HEARTBEAT_TIMEOUT")

	// ── State ──
	setStr(&cfg.State.FilePath, "ARBOT_STATE_FILE_PATH")
	setInt(&cfg.State.AutoSaveIntervalS, "ARBOT_STATE_AUTO_SAVE_INTERVAL_S")
	setInt(&cfg.State.MaxStateAgeMinutes, "ARBOT_STATE_MAX_STATE_AGE_MINUTES")
	setInt(&cfg.State.MaxSnapshotErrors, "ARBOT_STATE_MAX_SNAPSHOT_ERRORS")
	setBool(&cfg.State.RequireManualReview, "ARBOT_STATE_REQUIRE_MANUAL_REVIEW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.MinSeverity, "ARBOT_NOTIFY_MIN_SEVERITY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARBOT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Prefix, "ARBOT_ARCHIVE_PREFIX")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBOT_MODE")
	setStr(&cfg.LogLevel, "ARBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
