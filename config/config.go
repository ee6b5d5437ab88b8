package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfigPathRequired is returned when no configuration file is given
var ErrConfigPathRequired = errors.New("configuration file path is required")

// HoneypotListener is one deception endpoint
type HoneypotListener struct {
	Port     int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	Protocol string `mapstructure:"protocol" yaml:"protocol" validate:"oneof=tcp"`
	Handler  string `mapstructure:"handler" yaml:"handler" validate:"required,alphanum"`
}

// Config holds all configuration for bastion
type Config struct {
	DefenseMode         string `mapstructure:"defense_mode" validate:"required"`
	IntelligenceProfile string `mapstructure:"intelligence_profile" validate:"required"`

	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" validate:"min=1"`

	Datastore struct {
		Path string `mapstructure:"path" validate:"required"`
	} `mapstructure:"datastore"`

	Logging struct {
		Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=1"`
		MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
		MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"logging"`

	Modules struct {
		Firewall struct {
			Enabled            bool   `mapstructure:"enabled"`
			Adapter            string `mapstructure:"adapter" validate:"required_if=Enabled true"`
			BlockPorts         []int  `mapstructure:"block_ports" validate:"dive,min=1,max=65535"`
			DropScoreThreshold int    `mapstructure:"drop_score_threshold" validate:"min=0,max=100"`
		} `mapstructure:"firewall"`

		Tripwire struct {
			Enabled             bool     `mapstructure:"enabled"`
			Paths               []string `mapstructure:"paths" validate:"dive,required"`
			ScanIntervalSeconds int      `mapstructure:"scan_interval_seconds" validate:"min=0"`
			Realtime            bool     `mapstructure:"realtime"`
		} `mapstructure:"tripwire"`

		Honeypot struct {
			Enabled            bool               `mapstructure:"enabled"`
			BindHost           string             `mapstructure:"bind_host"`
			ReadTimeoutSeconds int                `mapstructure:"read_timeout_seconds" validate:"min=1"`
			RateLimitPerSecond float64            `mapstructure:"rate_limit_per_second" validate:"gt=0"`
			RateLimitBurst     int                `mapstructure:"rate_limit_burst" validate:"min=1"`
			Listeners          []HoneypotListener `mapstructure:"listeners" validate:"dive"`
		} `mapstructure:"honeypot"`

		ThreatIntel struct {
			URLs                  []string `mapstructure:"urls" validate:"dive,url"`
			UpdateIntervalSeconds int      `mapstructure:"update_interval_seconds" validate:"min=0"`
			RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds" validate:"min=1"`
			RetryMax              int      `mapstructure:"retry_max" validate:"min=0,max=10"`
		} `mapstructure:"threat_intel"`

		Monitoring struct {
			Enabled             bool     `mapstructure:"enabled"`
			PollIntervalSeconds int      `mapstructure:"poll_interval_seconds" validate:"min=0"`
			SuspiciousPorts     []int    `mapstructure:"suspicious_ports" validate:"dive,min=1,max=65535"`
			ProcessPatterns     []string `mapstructure:"process_patterns" validate:"dive,required"`
			CPUThreshold        float64  `mapstructure:"cpu_threshold" validate:"gt=0,lte=100"`
			MemoryThreshold     float64  `mapstructure:"memory_threshold" validate:"gt=0,lte=100"`
		} `mapstructure:"monitoring"`

		AutoUpdate struct {
			Enabled         bool   `mapstructure:"enabled"`
			IntervalSeconds int    `mapstructure:"interval_seconds" validate:"min=0"`
			ManifestURL     string `mapstructure:"manifest_url" validate:"omitempty,url"`
		} `mapstructure:"auto_update"`
	} `mapstructure:"modules"`

	API struct {
		Enabled    bool   `mapstructure:"enabled"`
		ListenAddr string `mapstructure:"listen_addr" validate:"required_if=Enabled true"`
	} `mapstructure:"api"`
}

// setDefaults registers a default for every key so that env overrides apply to all of them
func setDefaults(v *viper.Viper) {
	v.SetDefault("defense_mode", "REAL_TIME")
	v.SetDefault("intelligence_profile", "ADAPTIVE")
	v.SetDefault("shutdown_timeout_seconds", 15)

	v.SetDefault("datastore.path", "/var/lib/bastion/bastion.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("modules.firewall.enabled", true)
	v.SetDefault("modules.firewall.adapter", "iptables")
	v.SetDefault("modules.firewall.block_ports", []int{4444, 5555, 6666, 1337, 31337, 12345, 54321})
	v.SetDefault("modules.firewall.drop_score_threshold", 70)

	v.SetDefault("modules.tripwire.enabled", true)
	v.SetDefault("modules.tripwire.paths", []string{
		"/bin", "/sbin", "/usr/bin", "/usr/sbin",
		"/etc/passwd", "/etc/shadow", "/etc/sudoers", "/root",
	})
	v.SetDefault("modules.tripwire.scan_interval_seconds", 60)
	v.SetDefault("modules.tripwire.realtime", false)

	v.SetDefault("modules.honeypot.enabled", true)
	v.SetDefault("modules.honeypot.bind_host", "0.0.0.0")
	v.SetDefault("modules.honeypot.read_timeout_seconds", 10)
	v.SetDefault("modules.honeypot.rate_limit_per_second", 1.0)
	v.SetDefault("modules.honeypot.rate_limit_burst", 5)
	v.SetDefault("modules.honeypot.listeners", []map[string]any{
		{"port": 2222, "protocol": "tcp", "handler": "ssh"},
		{"port": 8080, "protocol": "tcp", "handler": "http"},
	})

	v.SetDefault("modules.threat_intel.urls", []string{
		"https://raw.githubusercontent.com/stamparm/ipsum/master/ipsum.txt",
		"https://rules.emergingthreats.net/blockrules/compromised-ips.txt",
	})
	v.SetDefault("modules.threat_intel.update_interval_seconds", 3600)
	v.SetDefault("modules.threat_intel.request_timeout_seconds", 10)
	v.SetDefault("modules.threat_intel.retry_max", 2)

	v.SetDefault("modules.monitoring.enabled", true)
	v.SetDefault("modules.monitoring.poll_interval_seconds", 30)
	v.SetDefault("modules.monitoring.suspicious_ports", []int{4444, 5555, 6666, 1337})
	v.SetDefault("modules.monitoring.process_patterns", []string{`bash -i`, `nc -e`, `/bin/sh`, `socket\.socket`})
	v.SetDefault("modules.monitoring.cpu_threshold", 90.0)
	v.SetDefault("modules.monitoring.memory_threshold", 90.0)

	v.SetDefault("modules.auto_update.enabled", true)
	v.SetDefault("modules.auto_update.interval_seconds", 86400)
	v.SetDefault("modules.auto_update.manifest_url", "")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen_addr", "127.0.0.1:9477")
}

// LoadConfig reads the YAML document at path, applies defaults and
// BASTION_* environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, ErrConfigPathRequired
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BASTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	applyListenerDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyListenerDefaults fills protocol and handler for listeners that only give a port
func applyListenerDefaults(cfg *Config) {
	for i := range cfg.Modules.Honeypot.Listeners {
		l := &cfg.Modules.Honeypot.Listeners[i]
		if l.Protocol == "" {
			l.Protocol = "tcp"
		}
		if l.Handler == "" {
			l.Handler = "ssh"
		}
	}
}

var validate = validator.New()

// validateConfig runs struct tag validation and the cross-field checks tags cannot express
func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q validation (value: %v)", first.Namespace(), first.Tag(), first.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[int]struct{})
	for _, l := range cfg.Modules.Honeypot.Listeners {
		if _, dup := seen[l.Port]; dup {
			return fmt.Errorf("invalid config: honeypot port %d configured more than once", l.Port)
		}
		seen[l.Port] = struct{}{}
	}
	return nil
}

// ScanInterval returns the configured integrity scan interval
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Modules.Tripwire.ScanIntervalSeconds) * time.Second
}

// FeedInterval returns the configured threat feed interval; zero disables the loop
func (c *Config) FeedInterval() time.Duration {
	return time.Duration(c.Modules.ThreatIntel.UpdateIntervalSeconds) * time.Second
}

// FeedTimeout returns the per-request feed timeout
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Modules.ThreatIntel.RequestTimeoutSeconds) * time.Second
}

// PollInterval returns the resource monitor poll interval
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Modules.Monitoring.PollIntervalSeconds) * time.Second
}

// UpdateInterval returns the self-update check interval
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.Modules.AutoUpdate.IntervalSeconds) * time.Second
}

// HoneypotReadTimeout returns the per-connection read deadline
func (c *Config) HoneypotReadTimeout() time.Duration {
	return time.Duration(c.Modules.Honeypot.ReadTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds how long Run waits for modules to stop
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
