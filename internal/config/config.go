package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds persistent defaults loaded from config files.
type Config struct {
	Report   ReportConfig   `yaml:"report"`
	Tail     TailConfig     `yaml:"tail"`
	Log      LogConfig      `yaml:"log"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ReportConfig holds report defaults.
type ReportConfig struct {
	ErrorRateThreshold float64 `yaml:"error_rate_threshold"`
	SlowMeanMs         float64 `yaml:"slow_mean_ms"`
	Upload             string  `yaml:"upload"`
	ShareExpiry        string  `yaml:"share_expiry"`
}

// TailConfig holds tail defaults.
type TailConfig struct {
	Interval    string   `yaml:"interval"`
	Rules       string   `yaml:"rules"`
	AlertLevels []string `yaml:"alert_levels"`
	Webhooks    []string `yaml:"webhooks"`
	MetricsAddr string   `yaml:"metrics_addr"`
}

// LogConfig holds diagnostic logging defaults.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultsConfig holds global defaults.
type DefaultsConfig struct {
	Verbose bool `yaml:"verbose"`
}

// Load reads config from ~/.loglens/config.yaml then CWD .loglens.yaml.
// CWD config values override home config. Missing files are not errors.
// Environment variables (LOGLENS_*) override config file values.
func Load() *Config {
	cfg := &Config{}

	if home, err := os.UserHomeDir(); err == nil {
		_ = loadFile(filepath.Join(home, ".loglens", "config.yaml"), cfg)
	}

	// CWD config overrides
	_ = loadFile(".loglens.yaml", cfg)

	applyEnv(cfg)

	return cfg
}

// LoadFrom reads config from a specific path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnv overrides cfg from LOGLENS_* variables. Unparseable numbers are
// ignored.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LOGLENS_REPORT_ERROR_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Report.ErrorRateThreshold = f
		}
	}
	if v := os.Getenv("LOGLENS_REPORT_SLOW_MS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Report.SlowMeanMs = f
		}
	}
	if v := os.Getenv("LOGLENS_REPORT_UPLOAD"); v != "" {
		cfg.Report.Upload = v
	}
	if v := os.Getenv("LOGLENS_REPORT_SHARE_EXPIRY"); v != "" {
		cfg.Report.ShareExpiry = v
	}
	if v := os.Getenv("LOGLENS_TAIL_INTERVAL"); v != "" {
		cfg.Tail.Interval = v
	}
	if v := os.Getenv("LOGLENS_TAIL_RULES"); v != "" {
		cfg.Tail.Rules = v
	}
	if v := os.Getenv("LOGLENS_TAIL_ALERT_LEVELS"); v != "" {
		cfg.Tail.AlertLevels = splitList(v)
	}
	if v := os.Getenv("LOGLENS_TAIL_WEBHOOKS"); v != "" {
		cfg.Tail.Webhooks = splitList(v)
	}
	if v := os.Getenv("LOGLENS_TAIL_METRICS_ADDR"); v != "" {
		cfg.Tail.MetricsAddr = v
	}
	if v := os.Getenv("LOGLENS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOGLENS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOGLENS_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("LOGLENS_VERBOSE"); v != "" {
		cfg.Defaults.Verbose = strings.EqualFold(v, "true") || v == "1"
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
