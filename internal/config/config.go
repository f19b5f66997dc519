package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/matrixise/hotwallet-tracker/internal/dashboard"
	"github.com/matrixise/hotwallet-tracker/internal/scheduler"
)

const (
	MinWorkers = 1
	MaxWorkers = 10
)

// Config represents the application configuration
type Config struct {
	LogLevel       string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Interval       string `mapstructure:"interval" validate:"omitempty,schedule"`
	Timezone       string `mapstructure:"timezone" validate:"omitempty,timezone"`
	RunImmediately *bool  `mapstructure:"run_immediately"`
	HTTPPort       int    `mapstructure:"http_port" validate:"omitempty,min=1024,max=65535"`

	Network      string `mapstructure:"network" validate:"required,min=2,max=10"`
	Token        string `mapstructure:"token" validate:"omitempty,eth_addr"`
	Sort         string `mapstructure:"sort" validate:"omitempty,sortkey"`
	Workers      int    `mapstructure:"workers" validate:"min=1,max=10"`
	IncludePools bool   `mapstructure:"include_pools"`
	PoolLimit    int    `mapstructure:"pool_limit" validate:"min=1,max=25"`
	RegistryFile string `mapstructure:"registry_file" validate:"omitempty,file"`

	Timeouts    Timeouts      `mapstructure:"timeouts"`
	History     HistoryConfig `mapstructure:"history"`
	CoinGecko   APIConfig     `mapstructure:"coingecko"`
	OneInch     APIConfig     `mapstructure:"oneinch"`
	DEXScreener APIConfig     `mapstructure:"dexscreener"`
}

// Timeouts bounds each stage of a refresh
type Timeouts struct {
	Probe   time.Duration `mapstructure:"probe" validate:"gt=0"`
	Balance time.Duration `mapstructure:"balance" validate:"gt=0"`
	Task    time.Duration `mapstructure:"task" validate:"gt=0"`
	Refresh time.Duration `mapstructure:"refresh" validate:"gt=0"`
	HTTP    time.Duration `mapstructure:"http" validate:"gt=0"`
}

// HistoryConfig configures the Etherscan-compatible history API
type HistoryConfig struct {
	BaseURL string            `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey  string            `mapstructure:"api_key"`
	APIKeys map[string]string `mapstructure:"api_keys"`
	Delay   time.Duration     `mapstructure:"delay" validate:"gte=0"`
	Window  int               `mapstructure:"window" validate:"min=1,max=10000"`
}

// APIConfig is a third-party HTTP API with an optional key
type APIConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey  string `mapstructure:"api_key"`
}

// Normalize canonicalizes identifiers and clamps the worker count
func (c *Config) Normalize() error {
	c.Network = strings.ToUpper(strings.TrimSpace(c.Network))
	c.Token = strings.ToLower(strings.TrimSpace(c.Token))
	c.Sort = strings.ToLower(strings.TrimSpace(c.Sort))
	c.Workers = min(max(c.Workers, MinWorkers), MaxWorkers)

	if c.Token != "" && !strings.HasPrefix(c.Token, "0x") {
		c.Token = "0x" + c.Token
	}

	keys := make(map[string]string, len(c.History.APIKeys))
	for id, key := range c.History.APIKeys {
		keys[strings.ToUpper(id)] = key
	}
	c.History.APIKeys = keys

	if c.Timeouts.Task > c.Timeouts.Refresh && c.Timeouts.Refresh > 0 {
		return fmt.Errorf("timeouts.task (%s) must not exceed timeouts.refresh (%s)", c.Timeouts.Task, c.Timeouts.Refresh)
	}
	return nil
}

// GetTimezone returns the configured location, UTC when unset or invalid
func (c *Config) GetTimezone() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ShouldRunImmediately defaults to true
func (c *Config) ShouldRunImmediately() bool {
	if c.RunImmediately == nil {
		return true
	}
	return *c.RunImmediately
}

// SortKey returns the parsed sort key
func (c *Config) SortKey() dashboard.SortKey {
	key, err := dashboard.ParseSortKey(c.Sort)
	if err != nil {
		return dashboard.SortBalance
	}
	return key
}

// ethAddressValidator validates Ethereum addresses
func ethAddressValidator(fl validator.FieldLevel) bool {
	return common.IsHexAddress(fl.Field().String())
}

// durationValidator validates duration strings
func durationValidator(fl validator.FieldLevel) bool {
	if fl.Field().String() == "" {
		return true
	}
	_, err := time.ParseDuration(fl.Field().String())
	return err == nil
}

// scheduleValidator accepts aligned durations and cron expressions
func scheduleValidator(fl validator.FieldLevel) bool {
	return scheduler.ValidateScheduleInterval(fl.Field().String()) == nil
}

func sortKeyValidator(fl validator.FieldLevel) bool {
	_, err := dashboard.ParseSortKey(fl.Field().String())
	return err == nil
}

// NewValidator creates a validator with custom validation rules
func NewValidator() *validator.Validate {
	validate := validator.New()
	_ = validate.RegisterValidation("eth_addr", ethAddressValidator)
	_ = validate.RegisterValidation("duration", durationValidator)
	_ = validate.RegisterValidation("schedule", scheduleValidator)
	_ = validate.RegisterValidation("sortkey", sortKeyValidator)
	return validate
}
