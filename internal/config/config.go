package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ibeckermayer/xhscollect/internal/selectors"
)

const appName = "xhscollect"

// Config holds all application configuration
type Config struct {
	Version   int             `toml:"version"`
	Collector CollectorConfig `toml:"collector"`
	Browser   BrowserConfig   `toml:"browser"`
	Export    ExportConfig    `toml:"export"`
	Logging   LoggingConfig   `toml:"logging"`
	Watch     WatchConfig     `toml:"watch"`
	Email     EmailConfig     `toml:"email"`

	// Selectors overrides the built-in selector table field by field.
	Selectors selectors.Set `toml:"selectors"`
}

// CollectorConfig tunes the scroll/expand loop. Waits are in milliseconds.
type CollectorConfig struct {
	SettleDelayMs     int     `toml:"settle_delay_ms"`
	SectionWaitMs     int     `toml:"section_wait_ms"`
	CenterWaitMs      int     `toml:"center_wait_ms"`
	PreClickWaitMs    int     `toml:"pre_click_wait_ms"`
	LoadWaitMs        int     `toml:"load_wait_ms"`
	ScrollWaitMs      int     `toml:"scroll_wait_ms"`
	StallWaitMs       int     `toml:"stall_wait_ms"`
	MaxStalls         int     `toml:"max_stalls"`
	ProgressEvery     int     `toml:"progress_every"`
	ActionsPerSecond  float64 `toml:"actions_per_second"`
	TimeoutMinutes    int     `toml:"timeout_minutes"`
	ModalPollInterval int     `toml:"modal_poll_ms"`
}

type BrowserConfig struct {
	Headless     bool   `toml:"headless"`
	UserAgent    string `toml:"user_agent"`
	WindowWidth  int    `toml:"window_width"`
	WindowHeight int    `toml:"window_height"`
	StartURL     string `toml:"start_url"`
}

type ExportConfig struct {
	OutputDir     string `toml:"output_dir"`
	CSVLayout     string `toml:"csv_layout"` // "full" or "compact"
	SaveSnapshots bool   `toml:"save_snapshots"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// WatchConfig drives periodic re-collection of a fixed list of notes.
type WatchConfig struct {
	Schedule string   `toml:"schedule"`
	Timezone string   `toml:"timezone"`
	Notes    []string `toml:"notes"`
	Parallel int      `toml:"parallel"`
}

type EmailConfig struct {
	Provider string `toml:"provider"` // "" disables mail, "smtp" enables it
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	FromAddr string `toml:"from_address"`
	ToAddr   string `toml:"to_address"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Collector: CollectorConfig{
			SettleDelayMs:     500,
			SectionWaitMs:     1500,
			CenterWaitMs:      800,
			PreClickWaitMs:    500,
			LoadWaitMs:        2000,
			ScrollWaitMs:      1200,
			StallWaitMs:       1000,
			MaxStalls:         50,
			ProgressEvery:     10,
			ActionsPerSecond:  4,
			TimeoutMinutes:    30,
			ModalPollInterval: 500,
		},
		Browser: BrowserConfig{
			Headless:     true,
			WindowWidth:  1920,
			WindowHeight: 1080,
			StartURL:     "https://www.xiaohongshu.com/explore",
		},
		Export: ExportConfig{
			CSVLayout:     "full",
			SaveSnapshots: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Watch: WatchConfig{
			Schedule: "0 */6 * * *",
			Timezone: "Asia/Shanghai",
			Notes:    []string{},
			Parallel: 2,
		},
		Email: EmailConfig{
			SMTPPort: 587,
		},
	}
}

// Ms converts a millisecond setting into a duration.
func Ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// SelectorSet returns the built-in selector table with the configured
// overrides applied.
func (c *Config) SelectorSet() selectors.Set {
	return selectors.Default().Merge(c.Selectors)
}

// OutputDir returns the export directory, defaulting to the working directory.
func (c *Config) OutputDir() string {
	if c.Export.OutputDir == "" {
		return "."
	}
	return c.Export.OutputDir
}

// ApplyEnv overrides selected settings from XHSC_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("XHSC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("XHSC_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("XHSC_OUTPUT_DIR"); v != "" {
		c.Export.OutputDir = v
	}
	if v := os.Getenv("XHSC_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
	if v := os.Getenv("XHSC_SMTP_PASS"); v != "" {
		c.Email.SMTPPass = v
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// CacheDir returns the platform-appropriate cache directory
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DatabasePath returns the full path to the state database
func DatabasePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}

// Load reads config from the default location
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads config from path. Keys missing from the file keep their
// default values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the default location
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes config to path
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
