package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// OpsConfig holds operational tunables for the assignment engine.
// Values are hot-reloadable from ops.yml so grace periods and batch
// sizes can be adjusted without redeploying the worker.
type OpsConfig struct {
	EarlyRemovalPeriod  time.Duration `mapstructure:"earlyRemovalPeriod"`
	AggregateWindowDays int           `mapstructure:"aggregateWindowDays"`
	ChunkSize           int           `mapstructure:"chunkSize"`
	ChunkConcurrency    int           `mapstructure:"chunkConcurrency"`
	RetryCap            int           `mapstructure:"retryCap"`
	RetryBaseDelay      time.Duration `mapstructure:"retryBaseDelay"`
	TrackerTable        string        `mapstructure:"trackerTable"`
}

func DefaultOpsConfig() OpsConfig {
	return OpsConfig{
		EarlyRemovalPeriod:  3 * time.Minute,
		AggregateWindowDays: 14,
		ChunkSize:           500,
		ChunkConcurrency:    4,
		RetryCap:            3,
		RetryBaseDelay:      500 * time.Millisecond,
		TrackerTable:        "ads_spend_daily",
	}
}

type OpsConfigHolder struct {
	current atomic.Value // holds OpsConfig
}

func NewOpsConfigHolder() (*OpsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("ops")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/trafficdesk/config")
	v.AddConfigPath("/etc/trafficdesk")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TRAFFICDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultOpsConfig()
	v.SetDefault("ops.earlyRemovalPeriod", defaults.EarlyRemovalPeriod)
	v.SetDefault("ops.aggregateWindowDays", defaults.AggregateWindowDays)
	v.SetDefault("ops.chunkSize", defaults.ChunkSize)
	v.SetDefault("ops.chunkConcurrency", defaults.ChunkConcurrency)
	v.SetDefault("ops.retryCap", defaults.RetryCap)
	v.SetDefault("ops.retryBaseDelay", defaults.RetryBaseDelay)
	v.SetDefault("ops.trackerTable", defaults.TrackerTable)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg OpsConfig
	if err := v.UnmarshalKey("ops", &cfg); err != nil {
		return nil, err
	}
	if err := validateOpsConfig(cfg); err != nil {
		return nil, err
	}

	holder := &OpsConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated OpsConfig
		if err := v.UnmarshalKey("ops", &updated); err != nil {
			log.Printf("[ops-config] reload failed: %v", err)
			return
		}
		if err := validateOpsConfig(updated); err != nil {
			log.Printf("[ops-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[ops-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// StaticOpsConfigHolder pins a holder to cfg with no file watching.
// Used by tests and embedded setups.
func StaticOpsConfigHolder(cfg OpsConfig) *OpsConfigHolder {
	holder := &OpsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *OpsConfigHolder) Get() OpsConfig {
	return h.current.Load().(OpsConfig)
}

func validateOpsConfig(cfg OpsConfig) error {
	if cfg.EarlyRemovalPeriod <= 0 {
		return errors.New("ops.earlyRemovalPeriod must be positive")
	}
	if cfg.AggregateWindowDays <= 0 {
		return errors.New("ops.aggregateWindowDays must be positive")
	}
	if cfg.ChunkSize <= 0 {
		return errors.New("ops.chunkSize must be positive")
	}
	if cfg.ChunkConcurrency <= 0 {
		return errors.New("ops.chunkConcurrency must be positive")
	}
	if cfg.RetryCap < 0 {
		return errors.New("ops.retryCap cannot be negative")
	}
	// The table name is interpolated into SQL, so anything beyond a
	// bare identifier is rejected here rather than at query time.
	if !isBareIdentifier(cfg.TrackerTable) {
		return errors.New("ops.trackerTable must be a bare identifier")
	}
	return nil
}

func isBareIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
