package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Cron   CronConfig   `mapstructure:"cron"`

	Chain      ChainConfig      `mapstructure:"chain"`
	Watcher    WatcherConfig    `mapstructure:"watcher"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Maker      MakerConfig      `mapstructure:"maker"`
	History    HistoryConfig    `mapstructure:"history"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Alert      AlertConfig      `mapstructure:"alert"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CronConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	HistorySweep string `mapstructure:"history_sweep"`
	FailureRetry string `mapstructure:"failure_retry"`
	MarkerGC     string `mapstructure:"marker_gc"`
}

// ChainConfig covers the RPC endpoint plus the contracts the watcher and the
// market-factory caller talk to. PrivateKey is normally injected through
// RM_CHAIN_PRIVATE_KEY rather than the yaml file.
type ChainConfig struct {
	RPCURL     string `mapstructure:"rpc_url"`
	ChainID    int64  `mapstructure:"chain_id"`
	PrivateKey string `mapstructure:"private_key"`

	RaffleAddress  string `mapstructure:"raffle_address"`
	FactoryAddress string `mapstructure:"factory_address"`
	OracleAddress  string `mapstructure:"oracle_address"`

	MaxGasPriceGwei  int64         `mapstructure:"max_gas_price_gwei"`
	GasLimit         uint64        `mapstructure:"gas_limit"`
	GasCacheInterval time.Duration `mapstructure:"gas_cache_interval"`
	ConfirmTimeout   time.Duration `mapstructure:"confirm_timeout"`
}

type WatcherConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Confirmations uint64        `mapstructure:"confirmations"`
	MaxBlockRange uint64        `mapstructure:"max_block_range"`
	StartBlock    uint64        `mapstructure:"start_block"`
}

type ReconcilerConfig struct {
	ThresholdBps      int           `mapstructure:"threshold_bps"`
	DedupeWindow      time.Duration `mapstructure:"dedupe_window"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	SentimentCapBps   int           `mapstructure:"sentiment_cap_bps"`
	CreationQueueSize int           `mapstructure:"creation_queue_size"`
}

type PricingConfig struct {
	RaffleWeightBps int `mapstructure:"raffle_weight_bps"`
	MarketWeightBps int `mapstructure:"market_weight_bps"`
	WarmLimit       int `mapstructure:"warm_limit"`
}

type MakerConfig struct {
	SpreadBps      int   `mapstructure:"spread_bps"`
	FeeBps         int   `mapstructure:"fee_bps"`
	MaxTradeAmount int64 `mapstructure:"max_trade_amount"`
}

type HistoryConfig struct {
	Retention      time.Duration `mapstructure:"retention"`
	MaxPoints      int           `mapstructure:"max_points"`
	DisplayCeiling int           `mapstructure:"display_ceiling"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
}

type AlertConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.history_sweep", "0 0 3 * * *")
	v.SetDefault("cron.failure_retry", "@every 10m")
	v.SetDefault("cron.marker_gc", "@every 5m")

	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.chain_id", 11155111)
	v.SetDefault("chain.raffle_address", "")
	v.SetDefault("chain.factory_address", "")
	v.SetDefault("chain.oracle_address", "")
	v.SetDefault("chain.max_gas_price_gwei", 150)
	v.SetDefault("chain.gas_limit", 500000)
	v.SetDefault("chain.gas_cache_interval", "1m")
	v.SetDefault("chain.confirm_timeout", "90s")

	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.poll_interval", "5s")
	v.SetDefault("watcher.confirmations", 2)
	v.SetDefault("watcher.max_block_range", 5000)
	v.SetDefault("watcher.start_block", 0)

	v.SetDefault("reconciler.threshold_bps", 100)
	v.SetDefault("reconciler.dedupe_window", "60s")
	v.SetDefault("reconciler.max_attempts", 5)
	v.SetDefault("reconciler.sentiment_cap_bps", 100)
	v.SetDefault("reconciler.creation_queue_size", 64)

	v.SetDefault("pricing.raffle_weight_bps", 7000)
	v.SetDefault("pricing.market_weight_bps", 3000)
	v.SetDefault("pricing.warm_limit", 500)

	v.SetDefault("maker.spread_bps", 100)
	v.SetDefault("maker.fee_bps", 10)
	v.SetDefault("maker.max_trade_amount", 1000000)

	v.SetDefault("history.retention", "2160h")
	v.SetDefault("history.max_points", 5000)
	v.SetDefault("history.display_ceiling", 500)

	v.SetDefault("stream.heartbeat_interval", "15s")
	v.SetDefault("stream.subscriber_buffer", 16)

	v.SetDefault("alert.telegram_token", "")
	v.SetDefault("alert.telegram_chat_id", 0)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
