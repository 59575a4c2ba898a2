// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/opensqt/perpcore/internal/core"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig                   `yaml:"app"`
	Telemetry   TelemetryConfig             `yaml:"telemetry"`
	Alerts      AlertConfig                 `yaml:"alerts"`
	Exchange    ExchangeConfig              `yaml:"exchange"`
	Instruments map[string]InstrumentConfig `yaml:"instruments"`
}

// AppConfig contains process-level (ambient) settings.
type AppConfig struct {
	LogLevel                 string `yaml:"logLevel" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	EngineType               string `yaml:"engineType" validate:"required,oneof=simple dbos"`
	DatabaseURL              Secret `yaml:"databaseUrl"` // required when EngineType == dbos
	WebhookSecret            Secret `yaml:"webhookSecret" validate:"required"`
	HTTPPort                 int    `yaml:"httpPort" validate:"required,min=1,max=65535"`
	ReconcileIntervalSeconds int    `yaml:"reconcileIntervalSeconds" validate:"required,min=1,max=3600"`

	// StorePath is the sqlite file backing PersistentStore, whatever
	// EngineType says. EventLogPath is the eventbus JSONL file. LockDir holds
	// one flock(2) file per instrument coin, guarding against a second
	// process racing the same instrument.
	StorePath    string `yaml:"storePath"`
	EventLogPath string `yaml:"eventLogPath"`
	LockDir      string `yaml:"lockDir"`

	// WebhookRatePerSecond/WebhookRateBurst throttle the alert ingress route
	// (shared across callers, not per-IP); 0 disables limiting.
	WebhookRatePerSecond float64 `yaml:"webhookRatePerSecond"`
	WebhookRateBurst     int     `yaml:"webhookRateBurst"`

	// AllowedOrigins whitelists WebSocket Origin headers for the /ws route;
	// "*" allows any origin (liveserver refuses "*" only once SetProduction(true)
	// is called, and nothing in this module calls it).
	AllowedOrigins []string `yaml:"allowedOrigins"`

	// OperatorAPIKeys gates every operator/read route but /health and /metrics
	// behind an X-Api-Key header; empty disables the check, since a
	// deployment may already sit behind its own reverse-proxy auth.
	OperatorAPIKeys []Secret `yaml:"operatorApiKeys"`
}

// TelemetryConfig configures the OpenTelemetry providers in pkg/telemetry.
type TelemetryConfig struct {
	ServiceName    string `yaml:"serviceName"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`
	OTLPEndpoint   string `yaml:"otlpEndpoint"` // empty selects the stdout exporter
}

// AlertConfig configures the outbound notification channels the dispatcher
// and reconcile loop use for unrecoverable failures and drift. Every field
// is optional; a channel with an empty credential is simply not added.
type AlertConfig struct {
	SlackWebhookURL  Secret `yaml:"slackWebhookUrl"`
	TelegramBotToken Secret `yaml:"telegramBotToken"`
	TelegramChatID   string `yaml:"telegramChatId"`
}

// ExchangeConfig contains the single venue's connection configuration. The
// design supports one active exchange per process (the instrument-scoped
// file lock assumes a single venue); multi-venue
// deployments run one process per venue.
type ExchangeConfig struct {
	Name       string  `yaml:"name" validate:"required"`
	APIKey     Secret  `yaml:"apiKey"`
	PrivateKey Secret  `yaml:"privateKey" validate:"required"`
	BaseURL    string  `yaml:"baseUrl"`
	WSURL      string  `yaml:"wsUrl"`
	FeeRate    float64 `yaml:"feeRate" validate:"min=0,max=1"`
}

// StrategyAssignment binds a named Strategy to a candle interval and
// warmup/auto-trading policy for one instrument. Params carries the
// strategy's own tunables (e.g. atr-breakout's channelBars/atrBars/
// atrMultiple) as plain strings so internal/strategy's registry can parse
// them without this package knowing every strategy's parameter set.
type StrategyAssignment struct {
	Name               string            `yaml:"name" validate:"required"`
	Interval           string            `yaml:"interval" validate:"required"`
	WarmupBars         int               `yaml:"warmupBars" validate:"required,min=1"`
	AutoTradingEnabled bool              `yaml:"autoTradingEnabled"`
	Params             map[string]string `yaml:"params"`
}

// GuardrailsConfig is the YAML shape for core.Guardrails.
type GuardrailsConfig struct {
	MaxNotionalUsd       decimal.Decimal `yaml:"maxNotionalUsd"`
	MaxLeverage          int             `yaml:"maxLeverage"`
	MaxOpenPositions     int             `yaml:"maxOpenPositions"`
	MaxDailyLossUsd      decimal.Decimal `yaml:"maxDailyLossUsd"`
	MaxTradesPerDay      int             `yaml:"maxTradesPerDay"`
	CooldownBars         int             `yaml:"cooldownBars"`
	MaxEntryDeviationPct decimal.Decimal `yaml:"maxEntryDeviationPct"`
}

func (g GuardrailsConfig) ToCore() core.Guardrails {
	return core.Guardrails{
		MaxNotionalUsd:       g.MaxNotionalUsd,
		MaxLeverage:          g.MaxLeverage,
		MaxOpenPositions:     g.MaxOpenPositions,
		MaxDailyLossUsd:      g.MaxDailyLossUsd,
		MaxTradesPerDay:      g.MaxTradesPerDay,
		CooldownBars:         g.CooldownBars,
		MaxEntryDeviationPct: g.MaxEntryDeviationPct,
	}
}

// SizingConfig is the YAML shape for core.Sizing.
type SizingConfig struct {
	Mode            core.SizingMode `yaml:"mode" validate:"required,oneof=risk cash fixed"`
	RiskPerTradeUsd decimal.Decimal `yaml:"riskPerTradeUsd"`
	CashPerTrade    decimal.Decimal `yaml:"cashPerTrade"`
	FixedSize       decimal.Decimal `yaml:"fixedSize"`
}

func (s SizingConfig) ToCore() core.Sizing {
	return core.Sizing{
		Mode:            s.Mode,
		RiskPerTradeUsd: s.RiskPerTradeUsd,
		CashPerTrade:    s.CashPerTrade,
		FixedSize:       s.FixedSize,
	}
}

// InstrumentConfig is one entry of the instruments map, keyed by coin.
type InstrumentConfig struct {
	Leverage         int                  `yaml:"leverage" validate:"required,min=1"`
	MarginType       core.MarginType      `yaml:"marginType" validate:"required,oneof=isolated cross"`
	Strategies       []StrategyAssignment `yaml:"strategies" validate:"required,min=1"`
	Guardrails       GuardrailsConfig     `yaml:"guardrails"`
	Sizing           SizingConfig         `yaml:"sizing"`
	EntrySlippageBps int                  `yaml:"entrySlippageBps" validate:"min=0,max=1000"`
	DataSource       string               `yaml:"dataSource"`
	Mode             core.Mode            `yaml:"mode" validate:"required,oneof=testnet mainnet"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateApp(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExchange(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateInstruments(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateApp() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{Field: "app.logLevel", Value: c.App.LogLevel, Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", "))}
	}
	if c.App.EngineType != "simple" && c.App.EngineType != "dbos" {
		return ValidationError{Field: "app.engineType", Value: c.App.EngineType, Message: "must be one of: simple, dbos"}
	}
	if c.App.EngineType == "dbos" && c.App.DatabaseURL == "" {
		return ValidationError{Field: "app.databaseUrl", Message: "required when engineType is dbos"}
	}
	if c.App.StorePath == "" {
		c.App.StorePath = "./data/perpcore.db"
	}
	if c.App.EventLogPath == "" {
		c.App.EventLogPath = "./data/events.jsonl"
	}
	if c.App.LockDir == "" {
		c.App.LockDir = "./data/locks"
	}
	if c.App.WebhookSecret == "" {
		return ValidationError{Field: "app.webhookSecret", Message: "webhook secret is required"}
	}
	if c.App.HTTPPort <= 0 || c.App.HTTPPort > 65535 {
		return ValidationError{Field: "app.httpPort", Value: c.App.HTTPPort, Message: "must be a valid TCP port"}
	}
	if c.App.ReconcileIntervalSeconds <= 0 {
		return ValidationError{Field: "app.reconcileIntervalSeconds", Value: c.App.ReconcileIntervalSeconds, Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateExchange() error {
	if c.Exchange.Name == "" {
		return ValidationError{Field: "exchange.name", Message: "exchange name is required"}
	}
	if c.Exchange.PrivateKey == "" {
		return ValidationError{Field: "exchange.privateKey", Message: "private key is required for order signing"}
	}
	return nil
}

func (c *Config) validateInstruments() error {
	if len(c.Instruments) == 0 {
		return ValidationError{Field: "instruments", Message: "at least one instrument must be configured"}
	}
	for coin, inst := range c.Instruments {
		if len(inst.Strategies) == 0 {
			return ValidationError{Field: fmt.Sprintf("instruments.%s.strategies", coin), Message: "at least one strategy assignment is required"}
		}
		if inst.Mode != core.ModeTestnet && inst.Mode != core.ModeMainnet {
			return ValidationError{Field: fmt.Sprintf("instruments.%s.mode", coin), Value: inst.Mode, Message: "must be one of: testnet, mainnet"}
		}
	}
	return nil
}

// String returns a string representation of the configuration (with
// sensitive fields masked via the Secret type's own MarshalYAML).
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			LogLevel:                 "INFO",
			EngineType:               "simple",
			WebhookSecret:            "test-secret",
			HTTPPort:                 8080,
			ReconcileIntervalSeconds: 30,
			StorePath:                "./data/perpcore.db",
			EventLogPath:             "./data/events.jsonl",
			LockDir:                  "./data/locks",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "perpcore",
			MetricsEnabled: true,
		},
		Exchange: ExchangeConfig{
			Name:       "hyperliquid",
			PrivateKey: "test-key",
			FeeRate:    0.00035,
		},
		Instruments: map[string]InstrumentConfig{
			"BTC": {
				Leverage:   5,
				MarginType: core.MarginIsolated,
				Strategies: []StrategyAssignment{
					{
						Name: "atr-breakout", Interval: "15m", WarmupBars: 200, AutoTradingEnabled: true,
						Params: map[string]string{"channelBars": "20", "atrBars": "14", "atrMultiple": "2"},
					},
				},
				Guardrails: GuardrailsConfig{
					MaxNotionalUsd:   decimal.NewFromInt(50000),
					MaxLeverage:      10,
					MaxOpenPositions: 1,
				},
				Sizing: SizingConfig{
					Mode:            core.SizingRisk,
					RiskPerTradeUsd: decimal.NewFromInt(50),
				},
				EntrySlippageBps: 5,
				DataSource:       "hyperliquid",
				Mode:             core.ModeTestnet,
			},
		},
	}
}
