package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/chromedp/chromedp"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	browseropts "github.com/ibeckermayer/xhscollect/internal/browser"
	"github.com/ibeckermayer/xhscollect/internal/config"
)

var (
	lastLimit    int
	lastComments bool
)

var lastCmd = &cobra.Command{
	Use:   "last",
	Short: "Show recent sessions or the last collected comments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp()
		if err != nil {
			return err
		}
		defer done()

		if lastComments {
			comments, err := a.LastComments(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(comments)
		}

		records, err := a.Last(cmd.Context(), lastLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No sessions yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FINISHED\tSTATUS\tTITLE\tURL")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.FinishedAt.Local().Format("2006-01-02 15:04"), r.Status, r.Title, r.URL)
		}
		return w.Flush()
	},
}

var (
	autoScroll bool
	exportCSV  bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the auto-scroll and CSV export toggles",
	Example: `  xhscollect settings
  xhscollect settings --auto-scroll=false --export-csv=true`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp()
		if err != nil {
			return err
		}
		defer done()

		s, err := a.Settings(cmd.Context())
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("auto-scroll") || flags.Changed("export-csv") {
			if flags.Changed("auto-scroll") {
				s.AutoScroll = autoScroll
			}
			if flags.Changed("export-csv") {
				s.ExportCSV = exportCSV
			}
			if err := a.SaveSettings(cmd.Context(), s); err != nil {
				return err
			}
		}

		fmt.Printf("auto-scroll: %t\nexport-csv:  %t\n", s.AutoScroll, s.ExportCSV)
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:       "open [last|config|cache|output]",
	Short:     "Open the last report, the config file, the cache or the output directory",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"last", "config", "cache", "output"},
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "last"
		if len(args) == 1 {
			target = args[0]
		}

		var (
			path string
			err  error
		)
		switch target {
		case "last":
			a, done, err := newApp()
			if err != nil {
				return err
			}
			defer done()
			return a.ViewLastExport(cmd.Context())
		case "config":
			path, err = config.ConfigPath()
		case "cache":
			path, err = config.CacheDir()
		case "output":
			cfg, lerr := loadConfig()
			if lerr != nil {
				return lerr
			}
			path = cfg.OutputDir()
		default:
			return fmt.Errorf("unknown target: %s", target)
		}
		if err != nil {
			return fmt.Errorf("failed to get path: %w", err)
		}
		return browser.OpenFile(path)
	},
}

var botTestCmd = &cobra.Command{
	Use:   "bot-test",
	Short: "Open bot.sannysoft.com with the collector's browser options",
	Long:  `Opens a visible browser with the same stealth options as collection so the browser fingerprint can be audited.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		bc := cfg.Browser
		bc.Headless = false // visible so you can see it

		ctx, cancel := browseropts.NewContext(cmd.Context(), bc)
		defer cancel()

		if err := chromedp.Run(ctx,
			chromedp.Navigate("https://bot.sannysoft.com"),
			chromedp.WaitVisible("body", chromedp.ByQuery),
		); err != nil {
			return fmt.Errorf("failed to navigate: %w", err)
		}

		fmt.Println("Press Enter to close the browser...")
		fmt.Scanln()
		return nil
	},
}

func init() {
	lastCmd.Flags().IntVarP(&lastLimit, "limit", "n", 10, "number of sessions to show")
	lastCmd.Flags().BoolVar(&lastComments, "comments", false, "print the last collected comments as JSON")

	settingsCmd.Flags().BoolVar(&autoScroll, "auto-scroll", true, "scroll and expand the thread before extracting")
	settingsCmd.Flags().BoolVar(&exportCSV, "export-csv", true, "write a CSV table next to the JSON report")

	rootCmd.AddCommand(lastCmd, settingsCmd, openCmd, botTestCmd)
}
