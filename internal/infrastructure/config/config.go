package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is every tunable the engine needs at startup. Values load from a
// TOML file first, then any matching environment variable overrides the
// file value — the same defaults-then-file-then-env layering the teacher's
// config.Load used, extended with an env pass for the spec-mandated
// strategy variables and the exchange, Postgres and Redis connection
// settings. Lot step, minimum order notional, close threshold, fees, the
// sqlite path and the control-surface address are set by file or default
// only.
type Config struct {
	Pair struct {
		Base  string `toml:"base"`
		Quote string `toml:"quote"`
	} `toml:"pair"`

	Strategy struct {
		ThresholdBps            float64 `toml:"threshold_bps"`
		SpikeExtraBpsForIOC     float64 `toml:"spike_extra_bps_for_ioc"`
		AllocPerTradeUSD        float64 `toml:"alloc_per_trade_usd"`
		Leverage                int     `toml:"leverage"`
		MaxTradesPerMinPerPair  int     `toml:"max_trades_per_min_per_pair"`
		DeadmanSeconds          int     `toml:"deadman_seconds"`
		DryRun                  bool    `toml:"dry_run"`
		AloOpenTimeoutMs        int64   `toml:"alo_open_timeout_ms"`
		AloCloseTimeoutMs       int64   `toml:"alo_close_timeout_ms"`
		MaxHoldMs               int64   `toml:"max_hold_ms"`
		ObservationThresholdBps float64 `toml:"observation_threshold_bps"`
		BaselineWindow          int     `toml:"baseline_window"`
		CloseThresholdBps       float64 `toml:"close_threshold_bps"`
		LotStep                 float64 `toml:"lot_step"`
		MinOrderNotionalUSD     float64 `toml:"min_order_notional_usd"`
	} `toml:"strategy"`

	Fees struct {
		PerpMakerBps float64 `toml:"perp_maker_bps"`
		PerpTakerBps float64 `toml:"perp_taker_bps"`
		SpotMakerBps float64 `toml:"spot_maker_bps"`
		SpotTakerBps float64 `toml:"spot_taker_bps"`
	} `toml:"fees"`

	Hyperliquid struct {
		Network        string `toml:"network"`
		RestURL        string `toml:"rest_url"`
		WsURL          string `toml:"ws_url"`
		PrivateKeyHex  string `toml:"private_key_hex"`
		PerpAssetIndex int    `toml:"perp_asset_index"`
		SpotAssetIndex int    `toml:"spot_asset_index"`
	} `toml:"hyperliquid"`

	Postgres struct {
		Enabled  bool   `toml:"enabled"`
		Host     string `toml:"host"`
		Port     int    `toml:"port"`
		DB       string `toml:"db"`
		User     string `toml:"user"`
		Password string `toml:"password"`
	} `toml:"postgres"`

	Redis struct {
		Host     string `toml:"host"`
		Port     int    `toml:"port"`
		DB       int    `toml:"db"`
		Password string `toml:"password"`
	} `toml:"redis"`

	Sqlite struct {
		Path string `toml:"path"`
	} `toml:"sqlite"`

	ControlSurface struct {
		Addr string `toml:"addr"`
	} `toml:"control_surface"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	dryRunSet := false
	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, err
		}
		dryRunSet = meta.IsDefined("strategy", "dry_run")
	}
	if !dryRunSet {
		// Dry-run defaults to true (same as the reference bot's
		// DRY_RUN default) unless the file explicitly set it or the
		// DRY_RUN env var overrides it below.
		cfg.Strategy.DryRun = true
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Pair.Base == "" {
		cfg.Pair.Base = "HYPE"
	}
	if cfg.Pair.Quote == "" {
		cfg.Pair.Quote = "USDC"
	}
	if cfg.Strategy.ThresholdBps == 0 {
		cfg.Strategy.ThresholdBps = 3
	}
	if cfg.Strategy.SpikeExtraBpsForIOC == 0 {
		cfg.Strategy.SpikeExtraBpsForIOC = 7
	}
	if cfg.Strategy.AllocPerTradeUSD == 0 {
		cfg.Strategy.AllocPerTradeUSD = 10
	}
	if cfg.Strategy.Leverage == 0 {
		cfg.Strategy.Leverage = 3
	}
	if cfg.Strategy.MaxTradesPerMinPerPair == 0 {
		cfg.Strategy.MaxTradesPerMinPerPair = 3
	}
	if cfg.Strategy.DeadmanSeconds == 0 {
		cfg.Strategy.DeadmanSeconds = 5
	}
	if cfg.Strategy.AloOpenTimeoutMs == 0 {
		cfg.Strategy.AloOpenTimeoutMs = 150
	}
	if cfg.Strategy.AloCloseTimeoutMs == 0 {
		cfg.Strategy.AloCloseTimeoutMs = 5000
	}
	if cfg.Strategy.MaxHoldMs == 0 {
		cfg.Strategy.MaxHoldMs = 60 * 1000
	}
	if cfg.Strategy.ObservationThresholdBps == 0 {
		cfg.Strategy.ObservationThresholdBps = 1
	}
	if cfg.Strategy.BaselineWindow == 0 {
		cfg.Strategy.BaselineWindow = 20
	}
	if cfg.Strategy.LotStep == 0 {
		cfg.Strategy.LotStep = 0.0001
	}
	if cfg.Strategy.MinOrderNotionalUSD == 0 {
		cfg.Strategy.MinOrderNotionalUSD = 10
	}
	if cfg.Fees.PerpMakerBps == 0 {
		cfg.Fees.PerpMakerBps = 1.5
	}
	if cfg.Fees.PerpTakerBps == 0 {
		cfg.Fees.PerpTakerBps = 4.5
	}
	if cfg.Fees.SpotMakerBps == 0 {
		cfg.Fees.SpotMakerBps = 4.0
	}
	if cfg.Fees.SpotTakerBps == 0 {
		cfg.Fees.SpotTakerBps = 7.0
	}
	if cfg.Hyperliquid.Network == "" {
		cfg.Hyperliquid.Network = "mainnet"
	}
	if cfg.Hyperliquid.RestURL == "" {
		cfg.Hyperliquid.RestURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Hyperliquid.WsURL == "" {
		cfg.Hyperliquid.WsURL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.DB == "" {
		cfg.Postgres.DB = "hl_arb"
	}
	if cfg.Postgres.User == "" {
		cfg.Postgres.User = "hluser"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Sqlite.Path == "" {
		cfg.Sqlite.Path = "data/hyperarb.db"
	}
	if cfg.ControlSurface.Addr == "" {
		cfg.ControlSurface.Addr = "127.0.0.1:9191"
	}
}

// applyEnvOverrides layers every spec-mandated environment variable on top
// of whatever the TOML file set, matching the reference bot's
// os.getenv-per-field Settings object field for field.
func applyEnvOverrides(cfg *Config) {
	envString(&cfg.Pair.Base, "PAIR_BASE")
	cfg.Pair.Base = strings.ToUpper(cfg.Pair.Base)
	envFloat(&cfg.Strategy.ThresholdBps, "THRESHOLD_BPS")
	envFloat(&cfg.Strategy.SpikeExtraBpsForIOC, "SPIKE_EXTRA_BPS_FOR_IOC")
	envFloat(&cfg.Strategy.AllocPerTradeUSD, "ALLOC_PER_TRADE_USD")
	envInt(&cfg.Strategy.Leverage, "LEVERAGE")
	envInt(&cfg.Strategy.MaxTradesPerMinPerPair, "MAX_TRADES_PER_MIN_PER_PAIR")
	envInt(&cfg.Strategy.DeadmanSeconds, "DEADMAN_SECONDS")
	envBool(&cfg.Strategy.DryRun, "DRY_RUN")
	envInt64(&cfg.Strategy.AloOpenTimeoutMs, "ALO_OPEN_TIMEOUT_MS")
	envInt64(&cfg.Strategy.AloCloseTimeoutMs, "ALO_CLOSE_TIMEOUT_MS")
	envInt64(&cfg.Strategy.MaxHoldMs, "MAX_HOLD_MS")
	envFloat(&cfg.Strategy.ObservationThresholdBps, "OBSERVATION_THRESHOLD_BPS")
	envInt(&cfg.Strategy.BaselineWindow, "BASELINE_WINDOW")

	envString(&cfg.Hyperliquid.Network, "HL_NETWORK")
	envString(&cfg.Hyperliquid.RestURL, "HL_INFO_URL")
	envString(&cfg.Hyperliquid.WsURL, "HL_WS_URL")
	envString(&cfg.Hyperliquid.PrivateKeyHex, "HL_API_AGENT_PRIVATE_KEY")

	envString(&cfg.Postgres.Host, "POSTGRES_HOST")
	envInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	envString(&cfg.Postgres.DB, "POSTGRES_DB")
	envString(&cfg.Postgres.User, "POSTGRES_USER")
	envString(&cfg.Postgres.Password, "POSTGRES_PASSWORD")

	envString(&cfg.Redis.Host, "REDIS_HOST")
	envInt(&cfg.Redis.Port, "REDIS_PORT")
	envInt(&cfg.Redis.DB, "REDIS_DB")
	envString(&cfg.Redis.Password, "REDIS_PASSWORD")
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Pair.Base) == "" {
		return errors.New("pair.base is empty")
	}
	if cfg.Strategy.Leverage <= 0 {
		return errors.New("strategy.leverage must be positive")
	}
	if cfg.Strategy.MaxTradesPerMinPerPair <= 0 {
		return errors.New("strategy.max_trades_per_min_per_pair must be positive")
	}
	if !cfg.Strategy.DryRun && strings.TrimSpace(cfg.Hyperliquid.PrivateKeyHex) == "" {
		return errors.New("hyperliquid.private_key_hex required when dry_run is false")
	}
	return nil
}

// PostgresDSN builds the libpq-style connection string pgx/v5/stdlib
// expects, mirroring the reference bot's f-string DSN assembly.
func (c *Config) PostgresDSN() string {
	return "host=" + c.Postgres.Host +
		" port=" + strconv.Itoa(c.Postgres.Port) +
		" dbname=" + c.Postgres.DB +
		" user=" + c.Postgres.User +
		" password=" + c.Postgres.Password
}

// RedisAddr builds the host:port go-redis expects.
func (c *Config) RedisAddr() string {
	return c.Redis.Host + ":" + strconv.Itoa(c.Redis.Port)
}
