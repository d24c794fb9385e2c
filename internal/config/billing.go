package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig holds the operational billing knobs that operators tune
// without redeploying: lease sizing, intent expiry and sweep batching.
type BillingConfig struct {
	// DefaultLeaseSpan is the counter range handed out per claim when the
	// device does not ask for a specific count.
	DefaultLeaseSpan int `mapstructure:"defaultLeaseSpan"`
	// IntentExpiryMinutes is the requested intent lifetime before clamping
	// to the [15, 1440] minute window.
	IntentExpiryMinutes int `mapstructure:"intentExpiryMinutes"`
	// SweepBatchSize bounds how many stuck invoices one reconciliation
	// sweep examines.
	SweepBatchSize int `mapstructure:"sweepBatchSize"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		DefaultLeaseSpan:    50,
		IntentExpiryMinutes: 360,
		SweepBatchSize:      200,
	}
}

// BillingConfigHolder exposes the current billing config with hot reload.
type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/kiloan/config")
	v.AddConfigPath("/etc/kiloan")
	v.AddConfigPath(".")

	v.SetEnvPrefix("KILOAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.defaultLeaseSpan", defaults.DefaultLeaseSpan)
	v.SetDefault("billing.intentExpiryMinutes", defaults.IntentExpiryMinutes)
	v.SetDefault("billing.sweepBatchSize", defaults.SweepBatchSize)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed config, for tests and
// tooling that should not watch the filesystem.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.DefaultLeaseSpan <= 0 || cfg.DefaultLeaseSpan > 9999 {
		return errors.New("billing.defaultLeaseSpan must be within 1..9999")
	}
	if cfg.IntentExpiryMinutes <= 0 {
		return errors.New("billing.intentExpiryMinutes must be positive")
	}
	if cfg.SweepBatchSize <= 0 {
		return errors.New("billing.sweepBatchSize must be positive")
	}
	return nil
}
