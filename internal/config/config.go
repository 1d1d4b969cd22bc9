package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultRPCURL          = "https://dream-rpc.somnia.network"
	DefaultWSURL           = "wss://dream-rpc.somnia.network/ws"
	DefaultExplorerURL     = "https://somnia.w3us.site"
	DefaultChainID         = 50312
	DefaultLSWAddress      = "0xab20e6D156F6F1ea70793a70C01B1a379b603D50"
	DefaultRewarderAddress = "0xEa9C19564186958FB6De241c049c3727a6a40c28"
	DefaultPublisher       = "0x311350f1c7ba0f1749572cc8a948dd7f9af1f42a"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL      string
	WSURL       string
	ExplorerURL string
	ChainID     uint64

	LSWAddress       string
	RewarderAddress  string
	StreamsAddress   string
	SchemaID         string
	PublisherAddress string
	PublisherKey     string
	Topic0Map        map[string]string

	MaxBlockRange  uint64
	LookbackBlocks uint64
	RPS            float64
	MaxRetries     int
	RetryBackoff   time.Duration

	PollInterval       time.Duration
	StreamPollInterval time.Duration
	HealthInterval     time.Duration
	ReconnectBackoff   time.Duration
	MaxReconnects      int
	ExplorerPages      int

	HistoryCapacity  int
	ActivityCapacity int
	RetentionRounds  int
	PendingCapacity  int

	Store         string
	StateDir      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PGDSN         string
	Journal       string
	PollCursor    string

	LogLevel string
	LogFile  string
}

// Load merges .env, config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("ROUNDKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("rpc", DefaultRPCURL)
	v.SetDefault("ws", DefaultWSURL)
	v.SetDefault("explorer", DefaultExplorerURL)
	v.SetDefault("chain-id", uint64(DefaultChainID))
	v.SetDefault("lsw-address", DefaultLSWAddress)
	v.SetDefault("rewarder-address", DefaultRewarderAddress)
	v.SetDefault("publisher-address", DefaultPublisher)
	v.SetDefault("max-block-range", uint64(900))
	v.SetDefault("lookback-blocks", uint64(2000))
	v.SetDefault("rps", 5.0)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("poll-interval", 5*time.Second)
	v.SetDefault("stream-poll-interval", 5*time.Second)
	v.SetDefault("health-interval", 30*time.Second)
	v.SetDefault("reconnect-backoff", 5*time.Second)
	v.SetDefault("max-reconnects", 3)
	v.SetDefault("explorer-pages", 1)
	v.SetDefault("history-capacity", 50)
	v.SetDefault("activity-capacity", 100)
	v.SetDefault("retention-rounds", 50)
	v.SetDefault("pending-capacity", 64)
	v.SetDefault("store", "file")
	v.SetDefault("state-dir", "./data")
	v.SetDefault("redis-addr", "localhost:6379")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:             v.GetString("rpc"),
		WSURL:              v.GetString("ws"),
		ExplorerURL:        v.GetString("explorer"),
		ChainID:            v.GetUint64("chain-id"),
		LSWAddress:         v.GetString("lsw-address"),
		RewarderAddress:    v.GetString("rewarder-address"),
		StreamsAddress:     v.GetString("streams-address"),
		SchemaID:           v.GetString("schema-id"),
		PublisherAddress:   v.GetString("publisher-address"),
		PublisherKey:       v.GetString("publisher-key"),
		Topic0Map:          getStringMap(v, "topic0-map"),
		MaxBlockRange:      v.GetUint64("max-block-range"),
		LookbackBlocks:     v.GetUint64("lookback-blocks"),
		RPS:                v.GetFloat64("rps"),
		MaxRetries:         v.GetInt("max-retries"),
		RetryBackoff:       v.GetDuration("retry-backoff"),
		PollInterval:       v.GetDuration("poll-interval"),
		StreamPollInterval: v.GetDuration("stream-poll-interval"),
		HealthInterval:     v.GetDuration("health-interval"),
		ReconnectBackoff:   v.GetDuration("reconnect-backoff"),
		MaxReconnects:      v.GetInt("max-reconnects"),
		ExplorerPages:      v.GetInt("explorer-pages"),
		HistoryCapacity:    v.GetInt("history-capacity"),
		ActivityCapacity:   v.GetInt("activity-capacity"),
		RetentionRounds:    v.GetInt("retention-rounds"),
		PendingCapacity:    v.GetInt("pending-capacity"),
		Store:              strings.ToLower(v.GetString("store")),
		StateDir:           v.GetString("state-dir"),
		RedisAddr:          v.GetString("redis-addr"),
		RedisPassword:      v.GetString("redis-password"),
		RedisDB:            v.GetInt("redis-db"),
		PGDSN:              v.GetString("pg-dsn"),
		Journal:            v.GetString("journal"),
		PollCursor:         v.GetString("poll-cursor"),
		LogLevel:           v.GetString("log-level"),
		LogFile:            v.GetString("log-file"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have no usable fallback.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.LSWAddress == "" {
		return fmt.Errorf("lsw address is required")
	}
	if c.MaxBlockRange == 0 {
		return fmt.Errorf("max block range must be greater than zero")
	}
	switch c.Store {
	case "file", "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unsupported store %q", c.Store)
	}
	if c.Store == "postgres" && c.PGDSN == "" {
		return fmt.Errorf("pg-dsn is required for the postgres store")
	}
	return nil
}

// HealthSpec returns the cron spec of the health check.
func (c Config) HealthSpec() string {
	return "@every " + c.HealthInterval.String()
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	for _, pair := range strings.Split(input, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
