package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/xhscollect/internal/app"
	"github.com/ibeckermayer/xhscollect/internal/driver"
	"github.com/ibeckermayer/xhscollect/internal/export"
)

var collectCmd = &cobra.Command{
	Use:   "collect <note-url>...",
	Short: "Collect and export the comments of one or more notes",
	Example: `  xhscollect collect https://www.xiaohongshu.com/explore/64f0c2a1000000001f03b1d2
  xhscollect collect <url1> <url2>`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp()
		if err != nil {
			return err
		}
		defer done()

		if len(args) > 1 {
			return a.CollectAll(cmd.Context(), args)
		}

		rec, err := a.CollectURL(cmd.Context(), args[0])
		fmt.Println(rec.Status)
		if rec.JSONPath != "" {
			fmt.Println("JSON:", rec.JSONPath)
		}
		if rec.CSVPath != "" {
			fmt.Println("CSV: ", rec.CSVPath)
		}
		return err
	},
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive [url]",
	Short: "Open a browser and collect the open note on Enter",
	Long: `Opens a visible browser. Open a note, then press Enter to start collecting
and Enter again to stop. Closing the note also stops a run.

Input: Enter toggles, "s" prints the status, "q" quits.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp()
		if err != nil {
			return err
		}
		defer done()

		var url string
		if len(args) == 1 {
			url = args[0]
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		commands := make(chan app.Command)
		go readCommands(ctx, cancel, a, commands)

		return a.Interactive(ctx, url, commands)
	},
}

// readCommands turns stdin lines into collector commands.
func readCommands(ctx context.Context, quit context.CancelFunc, a *app.App, out chan<- app.Command) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var cmd app.Command
		switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
		case "":
			cmd = app.CommandStart
			if a.Collecting() {
				cmd = app.CommandStop
			}
		case "s", "status":
			fmt.Println(a.Status())
			continue
		case "q", "quit":
			quit()
			return
		default:
			fmt.Println(`Enter toggles, "s" prints the status, "q" quits`)
			continue
		}

		select {
		case out <- cmd:
		case <-ctx.Done():
			return
		}
	}
	quit()
}

var extractCmd = &cobra.Command{
	Use:   "extract [snapshot]",
	Short: "Re-run extraction on a saved modal snapshot",
	Long: `Extracts comments from saved modal HTML without a browser. The argument may be
a cached snapshot (.json) or a raw HTML file; without one the latest cached
snapshot is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp()
		if err != nil {
			return err
		}
		defer done()

		var path string
		if len(args) == 1 {
			path = args[0]
		}
		report, paths, err := a.ExtractSnapshot(cmd.Context(), path)
		if err != nil {
			return err
		}

		fmt.Println(reportSummary(report))
		fmt.Println("JSON:", paths.JSON)
		if paths.CSV != "" {
			fmt.Println("CSV: ", paths.CSV)
		}
		return nil
	},
}

// reportSummary renders the status and progress of a report. The percentage
// is only shown when the expected total is known.
func reportSummary(r export.Report) string {
	p := driver.Progress{Count: r.CollectedComments, Expected: r.ExpectedTotal}
	if r.ExpectedTotal > 0 {
		return fmt.Sprintf("%s: %s comments (%d%%)", r.Status, p, r.CompletionRate)
	}
	return fmt.Sprintf("%s: %s comments", r.Status, p)
}

var watchNow bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-collect the configured notes on a schedule",
	Long:  `Collects every url in watch.notes on the cron schedule in watch.schedule until interrupted.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp()
		if err != nil {
			return err
		}
		defer done()
		return a.Watch(cmd.Context(), watchNow)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchNow, "now", false, "collect once immediately before waiting")

	rootCmd.AddCommand(collectCmd, interactiveCmd, extractCmd, watchCmd)
}
