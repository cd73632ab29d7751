package config

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fleeteye/internal/logger"
	"github.com/fleeteye/internal/models"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	MinCriticalCooldownMinutes = 5
	MinHighCooldownMinutes     = 15
	MaxCooldownMinutes         = 1440

	DefaultCriticalCooldownMinutes = 30
	DefaultHighCooldownMinutes     = 240
)

// Config is the full on-disk configuration.
type Config struct {
	Server struct {
		Port      int    `mapstructure:"port"`
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"server"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Thresholds map[string]ThresholdConfig `mapstructure:"thresholds"`

	Cooldowns CooldownConfig `mapstructure:"cooldowns"`

	Offline OfflineConfig `mapstructure:"offline"`

	Notify NotifyConfig `mapstructure:"notify"`

	Agent AgentConfig `mapstructure:"agent"`
}

// ThresholdConfig holds the per-condition breach thresholds.
type ThresholdConfig struct {
	High             float64 `mapstructure:"high"`
	Critical         float64 `mapstructure:"critical"`
	SustainedSeconds int     `mapstructure:"sustained_seconds"`
}

// CooldownConfig governs re-notification frequency for ongoing alerts.
type CooldownConfig struct {
	CriticalMinutes int `mapstructure:"critical_minutes"`
	HighMinutes     int `mapstructure:"high_minutes"`
}

// OfflineConfig governs absence-of-heartbeat detection.
type OfflineConfig struct {
	// IntervalMultiple: a server is offline when no heartbeat arrived
	// within IntervalMultiple * its expected interval.
	IntervalMultiple int `mapstructure:"interval_multiple"`
	SweepSeconds     int `mapstructure:"sweep_seconds"`
}

type NotifyConfig struct {
	OnRemediation bool `mapstructure:"on_remediation"`

	Slack struct {
		Token   string `mapstructure:"token"`
		Channel string `mapstructure:"channel"`
	} `mapstructure:"slack"`

	Email struct {
		SMTPHost    string   `mapstructure:"smtp_host"`
		SMTPPort    int      `mapstructure:"smtp_port"`
		From        string   `mapstructure:"from"`
		Password    string   `mapstructure:"password"`
		ToReceivers []string `mapstructure:"to_receivers"`
	} `mapstructure:"email"`

	Webhook struct {
		URL            string `mapstructure:"url"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"webhook"`
}

// AgentConfig configures the agent subcommand.
type AgentConfig struct {
	ServerURL       string `mapstructure:"server_url"`
	ServerID        string `mapstructure:"server_id"`
	Token           string `mapstructure:"token"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	DiskPath        string `mapstructure:"disk_path"`
}

// Snapshot is the immutable evaluation-time view of thresholds and
// cooldowns. One snapshot is captured per evaluation so a hot reload
// mid-cycle is never applied partially to a single decision.
type Snapshot struct {
	Thresholds          map[models.Condition]Thresholds
	Cooldowns           Cooldowns
	OfflineMultiple     int
	NotifyOnRemediation bool
}

// Thresholds is the resolved per-condition threshold set.
type Thresholds struct {
	High      float64
	Critical  float64
	Sustained time.Duration
}

// Cooldowns is the resolved per-severity reminder spacing.
type Cooldowns struct {
	Critical time.Duration
	High     time.Duration
}

// ForSeverity returns the reminder cooldown for a severity.
func (c Cooldowns) ForSeverity(sev models.Severity) time.Duration {
	if sev == models.SeverityCritical {
		return c.Critical
	}
	return c.High
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "data/fleeteye.db")
	v.SetDefault("log.level", "info")

	v.SetDefault("thresholds.cpu", map[string]any{"high": 85, "critical": 95, "sustained_seconds": 120})
	v.SetDefault("thresholds.memory", map[string]any{"high": 90, "critical": 97, "sustained_seconds": 120})
	v.SetDefault("thresholds.disk", map[string]any{"high": 80, "critical": 90, "sustained_seconds": 0})
	v.SetDefault("thresholds.offline", map[string]any{"sustained_seconds": 0})

	v.SetDefault("cooldowns.critical_minutes", DefaultCriticalCooldownMinutes)
	v.SetDefault("cooldowns.high_minutes", DefaultHighCooldownMinutes)

	v.SetDefault("offline.interval_multiple", 3)
	v.SetDefault("offline.sweep_seconds", 30)

	v.SetDefault("notify.on_remediation", true)
	v.SetDefault("notify.webhook.timeout_seconds", 10)

	v.SetDefault("agent.interval_seconds", 30)
	v.SetDefault("agent.disk_path", "/")
}

// Load reads config.yaml from path (a directory, or "." by default),
// applies defaults, and validates. A missing file is not an error; the
// defaults stand in.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path == "" {
		path = "."
	}
	v.AddConfigPath(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects inconsistent configuration at load time so that
// evaluation never has to handle an invalid threshold set.
func (c *Config) Validate() error {
	for name, t := range c.Thresholds {
		cond := models.Condition(name)
		switch cond {
		case models.ConditionCPU, models.ConditionMemory, models.ConditionDisk:
			if t.Critical < t.High {
				return fmt.Errorf("thresholds.%s: critical (%.1f) must be >= high (%.1f)", name, t.Critical, t.High)
			}
		case models.ConditionOffline:
			// no numeric thresholds
		default:
			return fmt.Errorf("thresholds.%s: unknown condition", name)
		}
		if t.SustainedSeconds < 0 {
			return fmt.Errorf("thresholds.%s: sustained_seconds must be >= 0", name)
		}
	}

	if c.Cooldowns.CriticalMinutes < MinCriticalCooldownMinutes || c.Cooldowns.CriticalMinutes > MaxCooldownMinutes {
		return fmt.Errorf("cooldowns.critical_minutes must be in [%d,%d], got %d",
			MinCriticalCooldownMinutes, MaxCooldownMinutes, c.Cooldowns.CriticalMinutes)
	}
	if c.Cooldowns.HighMinutes < MinHighCooldownMinutes || c.Cooldowns.HighMinutes > MaxCooldownMinutes {
		return fmt.Errorf("cooldowns.high_minutes must be in [%d,%d], got %d",
			MinHighCooldownMinutes, MaxCooldownMinutes, c.Cooldowns.HighMinutes)
	}

	if c.Offline.IntervalMultiple < 1 {
		return fmt.Errorf("offline.interval_multiple must be >= 1, got %d", c.Offline.IntervalMultiple)
	}
	return nil
}

// Snapshot builds the immutable evaluation view from this config.
func (c *Config) Snapshot() *Snapshot {
	snap := &Snapshot{
		Thresholds: make(map[models.Condition]Thresholds, len(c.Thresholds)),
		Cooldowns: Cooldowns{
			Critical: time.Duration(c.Cooldowns.CriticalMinutes) * time.Minute,
			High:     time.Duration(c.Cooldowns.HighMinutes) * time.Minute,
		},
		OfflineMultiple:     c.Offline.IntervalMultiple,
		NotifyOnRemediation: c.Notify.OnRemediation,
	}
	for name, t := range c.Thresholds {
		snap.Thresholds[models.Condition(name)] = Thresholds{
			High:      t.High,
			Critical:  t.Critical,
			Sustained: time.Duration(t.SustainedSeconds) * time.Second,
		}
	}
	return snap
}

// Provider hands out immutable snapshots and swaps them atomically when
// the config file changes on disk.
type Provider struct {
	current atomic.Pointer[Snapshot]
}

// NewProvider wraps an initial config.
func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg.Snapshot())
	return p
}

// Current returns the active snapshot. Callers must capture it once per
// evaluation and not re-read mid-decision.
func (p *Provider) Current() *Snapshot {
	return p.current.Load()
}

// Swap replaces the active snapshot.
func (p *Provider) Swap(cfg *Config) {
	p.current.Store(cfg.Snapshot())
}

// Watch re-reads the config file on change and swaps the snapshot.
// Invalid replacement config is rejected and the previous snapshot stays
// in effect.
func (p *Provider) Watch(path string) {
	log := logger.WithComponent("config")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path == "" {
		path = "."
	}
	v.AddConfigPath(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Nothing to watch without a file on disk.
		log.Debug().Err(err).Msg("config watch disabled")
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("rejecting config reload")
			return
		}
		p.Swap(cfg)
		log.Info().Str("file", e.Name).Msg("configuration reloaded")
	})
	v.WatchConfig()
}
