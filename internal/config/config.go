// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Transport TransportConfig `mapstructure:"transport"`
	Outreach  OutreachConfig  `mapstructure:"outreach"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects postgres (production) or sqlite3 (single node, tests).
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         uint16 `mapstructure:"port"`
	Name         string `mapstructure:"name"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	SSLMode      string `mapstructure:"ssl_mode"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN returns the driver specific data source name.
func (c DatabaseConfig) DSN() string {
	if c.Driver == "sqlite3" {
		return SQLiteDSN(c.Path)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// SQLiteDSN enables WAL, foreign keys and immediate write transactions.
func SQLiteDSN(path string) string {
	return path + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on"
}

type AMQPConfig struct {
	URL        string `mapstructure:"url"`
	BatchQueue string `mapstructure:"batch_queue"`
}

// Enabled is false when no broker is configured; batches are then driven over HTTP.
func (c AMQPConfig) Enabled() bool {
	return c.URL != ""
}

type TransportConfig struct {
	Kind    string        `mapstructure:"kind"`
	Timeout time.Duration `mapstructure:"timeout"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Mock    MockConfig    `mapstructure:"mock"`
}

type SMTPConfig struct {
	Host     string     `mapstructure:"host"`
	Port     int        `mapstructure:"port"`
	Username string     `mapstructure:"username"`
	Password string     `mapstructure:"password"`
	TLSMode  string     `mapstructure:"tls_mode"`
	HeloName string     `mapstructure:"helo_name"`
	DKIM     DKIMConfig `mapstructure:"dkim"`
}

func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DKIMConfig struct {
	Domain   string `mapstructure:"domain"`
	Selector string `mapstructure:"selector"`
	KeyFile  string `mapstructure:"key_file"`
}

func (c DKIMConfig) Enabled() bool {
	return c.Domain != "" && c.Selector != "" && c.KeyFile != ""
}

type HTTPConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type MockConfig struct {
	FailureRate float64 `mapstructure:"failure_rate"`
}

// OutreachConfig is the fallback when no settings row exists.
type OutreachConfig struct {
	SenderName   string `mapstructure:"sender_name"`
	SenderEmail  string `mapstructure:"sender_email"`
	ReplyTo      string `mapstructure:"reply_to"`
	SendRate     int    `mapstructure:"send_rate"`
	VIPThreshold string `mapstructure:"vip_threshold"`
	ActiveDays   int    `mapstructure:"active_days"`
	DormantDays  int    `mapstructure:"dormant_days"`
}

func (c OutreachConfig) VIPThresholdDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.VIPThreshold)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type ProcessorConfig struct {
	LiveBatchSize   int           `mapstructure:"live_batch_size"`
	DryRunBatchSize int           `mapstructure:"dry_run_batch_size"`
	ClaimLease      time.Duration `mapstructure:"claim_lease"`
}

type SchedulerConfig struct {
	Spec           string        `mapstructure:"spec"`
	StallThreshold time.Duration `mapstructure:"stall_threshold"`
}

type LogConfig struct {
	Env   string `mapstructure:"env"`
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

var defaults = map[string]any{
	"server.addr":                  ":8080",
	"server.shutdown_timeout":      "30s",
	"database.driver":              "postgres",
	"database.host":                "localhost",
	"database.port":                5432,
	"database.name":                "outreach",
	"database.user":                "postgres",
	"database.password":            "",
	"database.ssl_mode":            "disable",
	"database.path":                "outreach.db",
	"database.max_open_conns":      10,
	"database.max_idle_conns":      5,
	"amqp.url":                     "",
	"amqp.batch_queue":             "campaign_batches",
	"transport.kind":               "mock",
	"transport.timeout":            "30s",
	"transport.smtp.host":          "localhost",
	"transport.smtp.port":          587,
	"transport.smtp.username":      "",
	"transport.smtp.password":      "",
	"transport.smtp.tls_mode":      "starttls",
	"transport.smtp.helo_name":     "localhost",
	"transport.smtp.dkim.domain":   "",
	"transport.smtp.dkim.selector": "",
	"transport.smtp.dkim.key_file": "",
	"transport.http.base_url":      "",
	"transport.http.api_key":       "",
	"transport.mock.failure_rate":  0.0,
	"outreach.sender_name":         "Outreach",
	"outreach.sender_email":        "outreach@example.com",
	"outreach.reply_to":            "",
	"outreach.send_rate":           50,
	"outreach.vip_threshold":       "1000",
	"outreach.active_days":         90,
	"outreach.dormant_days":        180,
	"processor.live_batch_size":    1,
	"processor.dry_run_batch_size": 500,
	"processor.claim_lease":        "15m",
	"scheduler.spec":               "@every 30s",
	"scheduler.stall_threshold":    "10m",
	"log.env":                      "development",
	"log.level":                    "info",
	"metrics.addr":                 ":9101",
}

// Load reads .env, an optional config.yaml and OUTREACH_* environment overrides.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/outreach")
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is Load for main packages.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	switch c.Transport.Kind {
	case "smtp", "http", "mock":
	default:
		return fmt.Errorf("config: unknown transport kind %q", c.Transport.Kind)
	}
	if c.Transport.Kind == "http" && c.Transport.HTTP.BaseURL == "" {
		return errors.New("config: transport.http.base_url is required")
	}
	if c.Outreach.SendRate <= 0 {
		return errors.New("config: outreach.send_rate must be positive")
	}
	if c.Processor.LiveBatchSize <= 0 || c.Processor.DryRunBatchSize <= 0 {
		return errors.New("config: processor batch sizes must be positive")
	}
	if _, err := decimal.NewFromString(c.Outreach.VIPThreshold); err != nil {
		return fmt.Errorf("config: outreach.vip_threshold: %w", err)
	}
	return nil
}
