package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr      string `mapstructure:"addr"`
		LogLevel  string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"`
	} `mapstructure:"server"`

	Bidder struct {
		Instance         string        `mapstructure:"instance"`
		RoundBudget      time.Duration `mapstructure:"round_budget"`
		WorkerPoolSize   int           `mapstructure:"worker_pool_size"`
		BidTTL           time.Duration `mapstructure:"bid_ttl"`
		PrintNoBidReason bool          `mapstructure:"print_no_bid_reason"`
		BusLogLevel      int           `mapstructure:"bus_log_level"`
		CampaignFile     string        `mapstructure:"campaign_file"`
		Throttle         int           `mapstructure:"throttle"`
	} `mapstructure:"bidder"`

	Postgres struct {
		Enabled       bool   `mapstructure:"enabled"`
		Host          string `mapstructure:"host"`
		Port          int    `mapstructure:"port"`
		User          string `mapstructure:"user"`
		Password      string `mapstructure:"password"`
		DBName        string `mapstructure:"db_name"`
		SSLMode       string `mapstructure:"ssl_mode"`
		MaxOpenConns  int    `mapstructure:"max_open_conns"`
		MaxIdleConns  int    `mapstructure:"max_idle_conns"`
		RunMigrations bool   `mapstructure:"run_migrations"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Bus struct {
		Broker    string    `mapstructure:"broker"` // empty runs an in-process bus
		ClientID  string    `mapstructure:"client_id"`
		QueueSize int       `mapstructure:"queue_size"`
		Topics    BusTopics `mapstructure:"topics"`
	} `mapstructure:"bus"`

	Cache struct {
		Driver        string        `mapstructure:"driver"` // memory | redis
		Limit         int           `mapstructure:"limit"`
		RedisAddr     string        `mapstructure:"redis_addr"`
		RedisDB       int           `mapstructure:"redis_db"`
		RedisPassword string        `mapstructure:"redis_password"`
		Timeout       time.Duration `mapstructure:"timeout"`
	} `mapstructure:"cache"`
}

// BusTopics mirrors control.Topics so config does not import the bidder
// packages.
type BusTopics struct {
	Commands  string `mapstructure:"commands"`
	Responses string `mapstructure:"responses"`
	Requests  string `mapstructure:"requests"`
	Bids      string `mapstructure:"bids"`
	Wins      string `mapstructure:"wins"`
	Logs      string `mapstructure:"logs"`
	Clicks    string `mapstructure:"clicks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "console")

	host, _ := os.Hostname()
	v.SetDefault("bidder.instance", host)
	v.SetDefault("bidder.round_budget", 50*time.Millisecond)
	v.SetDefault("bidder.worker_pool_size", 64)
	v.SetDefault("bidder.bid_ttl", 5*time.Minute)
	v.SetDefault("bidder.print_no_bid_reason", false)
	v.SetDefault("bidder.bus_log_level", 3)
	v.SetDefault("bidder.campaign_file", "")
	v.SetDefault("bidder.throttle", 100)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.db_name", "bidder")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.run_migrations", false)

	v.SetDefault("listener.channel", "campaigns_changed")
	v.SetDefault("listener.reconnect_seconds", 5)

	v.SetDefault("bus.broker", "")
	v.SetDefault("bus.client_id", "")
	v.SetDefault("bus.queue_size", 1024)
	v.SetDefault("bus.topics.commands", "commands")
	v.SetDefault("bus.topics.responses", "responses")
	v.SetDefault("bus.topics.requests", "requests")
	v.SetDefault("bus.topics.bids", "bids")
	v.SetDefault("bus.topics.wins", "wins")
	v.SetDefault("bus.topics.logs", "log")
	v.SetDefault("bus.topics.clicks", "clicks")

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.limit", 100000)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.timeout", 200*time.Millisecond)
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	setDefaults(v)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

func validate(c *Config) {
	if c.Bidder.Instance == "" { c.Bidder.Instance = "bidder" }
	if c.Bidder.WorkerPoolSize <= 0 { c.Bidder.WorkerPoolSize = 64 }
	if c.Bidder.Throttle < 0 || c.Bidder.Throttle > 100 { c.Bidder.Throttle = 100 }
	if c.Bus.ClientID == "" { c.Bus.ClientID = c.Bidder.Instance }
	if c.Bus.QueueSize <= 0 { c.Bus.QueueSize = 1024 }
	if c.Cache.Driver == "" { c.Cache.Driver = "memory" }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }
