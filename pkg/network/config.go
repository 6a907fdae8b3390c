package network

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second

	// healthCheckTimeout bounds CheckAPIHealth regardless of configuration
	healthCheckTimeout = 10 * time.Second
	// timeoutProbeBudget bounds the GetBestTimeout probe
	timeoutProbeBudget = 5 * time.Second
)

// RetryConfig controls per-request timeouts and the retry loop
type RetryConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" json:"retry_delay" yaml:"retry_delay"`
}

// DefaultRetryConfig returns the configuration used for absent values
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
	}
}

// withDefaults fills zero or negative fields from DefaultRetryConfig
func (c RetryConfig) withDefaults() RetryConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// RetryConfigFromMap builds a RetryConfig from a plain key/value mapping with
// the keys "timeout", "max_retries" and "retry_delay". Numeric durations are
// seconds; strings use time.ParseDuration syntax. Missing keys get defaults
// and other keys are ignored.
func RetryConfigFromMap(values map[string]any) (RetryConfig, error) {
	var cfg RetryConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			secondsToDurationHook,
		),
		Result: &cfg,
	})
	if err != nil {
		return cfg, err
	}

	if err := decoder.Decode(values); err != nil {
		return cfg, fmt.Errorf("invalid retry config: %w", err)
	}

	return cfg.withDefaults(), nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook reads plain numbers as seconds
func secondsToDurationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}

	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
	default:
		return data, nil
	}
}

// ProxyConfig is an explicit outbound proxy for the manager's HTTP clients.
// Supported schemes are http, https, socks5 and socks5h.
type ProxyConfig struct {
	URL string `json:"url" yaml:"url"`
}
