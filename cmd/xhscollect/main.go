// Command xhscollect collects the comments of xiaohongshu notes and exports
// them as JSON and CSV.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/xhscollect/internal/app"
	"github.com/ibeckermayer/xhscollect/internal/auth"
	"github.com/ibeckermayer/xhscollect/internal/config"
	"github.com/ibeckermayer/xhscollect/internal/logger"
	"github.com/ibeckermayer/xhscollect/internal/notifier"
	"github.com/ibeckermayer/xhscollect/internal/store"
)

var (
	version = "dev"

	// Global flags
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "xhscollect",
	Short: "Collect the comments of xiaohongshu notes",
	Long: `xhscollect opens a note in Chrome, scrolls and expands its comment thread
until every comment is loaded, and exports the comments to a JSON report and
a CSV table.

Run 'xhscollect login' once to store a session, then 'xhscollect collect <url>'.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, creating a default one on first run.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load(".env")

	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
		if errors.Is(err, fs.ErrNotExist) {
			// First run - create default config
			cfg, err = config.Default(), nil
			if serr := cfg.Save(); serr != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not save default config: %v\n", serr)
			} else if path, perr := config.ConfigPath(); perr == nil {
				fmt.Fprintf(os.Stderr, "Created default config at: %s\n", path)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ApplyEnv()
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, nil
}

// newApp wires the application. The returned function releases the store.
func newApp() (*app.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	cookiePath, err := auth.DefaultCookieStorePath()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get cookie store path: %w", err)
	}
	authManager := auth.NewManager(auth.NewCookieStore(cookiePath), cfg.Browser, logger.Component("auth"))

	dbPath, err := config.DatabasePath()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state database: %w", err)
	}

	cache, err := store.DefaultCache()
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	log := logger.Component("app")

	n := notifier.New(logger.Component("notifier"),
		notifier.LogSink{Log: logger.Component("events")},
		notifier.StoreSink{Store: st},
	)
	mail, err := notifier.NewMailSinkFromConfig(cfg.Email)
	if err != nil {
		log.Warn().Err(err).Msg("mail notifications disabled")
	} else if mail != nil {
		n.Add(mail)
	}

	a := app.New(cfg, authManager, st, cache, n, log)
	return a, func() { st.Close() }, nil
}
