package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/hlsget/internal/config"
	"github.com/surge-downloader/hlsget/internal/core"
	"github.com/surge-downloader/hlsget/internal/download"
	"github.com/surge-downloader/hlsget/internal/engine/events"
	"github.com/surge-downloader/hlsget/internal/engine/types"
	"github.com/surge-downloader/hlsget/internal/tui"
)

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Download an HLS stream in the foreground",
	Long: `get downloads an HLS stream into the storage directory and registers it
under a name. Interrupted downloads resume on the next run.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rawurl := args[0]
		name, _ := cmd.Flags().GetString("name")
		output, _ := cmd.Flags().GetString("output")
		quiet, _ := cmd.Flags().GetBool("quiet")

		if name == "" {
			name = deriveAssetName(rawurl)
		}

		isMaster, err := AcquireLock()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error acquiring lock: %v\n", err)
			os.Exit(1)
		}
		if !isMaster {
			fmt.Fprintln(os.Stderr, "Error: an hlsget server is running.")
			fmt.Fprintln(os.Stderr, "Use 'hlsget add <url>' to download through it.")
			os.Exit(1)
		}
		defer func() { _ = ReleaseLock() }()

		settings := loadSettings()
		if output != "" {
			settings.General.StorageDir = output
		}

		service, err := newLocalService(settings, config.GetDatabasePath())
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

		code := runGet(service, rawurl, name, quiet, settings.General.AutoRestore)
		_ = service.Shutdown()
		if code != 0 {
			_ = ReleaseLock()
			os.Exit(code)
		}
	},
}

func init() {
	getCmd.Flags().StringP("name", "n", "", "Asset name (default: derived from the URL)")
	getCmd.Flags().StringP("output", "o", "", "Storage directory (overrides settings)")
	getCmd.Flags().BoolP("quiet", "q", false, "Print plain progress lines instead of the terminal UI")
	rootCmd.AddCommand(getCmd)
}

// runGet downloads one asset and returns the process exit code.
func runGet(service *core.LocalService, rawurl, name string, quiet, restore bool) int {
	if restore {
		// Picks up an interrupted run of the same name instead of starting over
		if _, err := service.Restore(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not restore downloads: %v\n", err)
		}
	}

	st, err := service.Add(rawurl, name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	if st.State == types.Downloaded.String() {
		fmt.Printf("%s is already downloaded: %s\n", name, st.LocalPath)
		return 0
	}
	a := service.Asset(name)
	if a == nil {
		fmt.Fprintf(os.Stderr, "Error: %s did not start\n", name)
		return 1
	}

	if quiet {
		waitQuiet(a)
	} else if err := runProgressUI(service, a); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
	}

	_, done, resultErr := a.Result()
	switch {
	case !done:
		fmt.Printf("Interrupted. Run the same command again to resume %s.\n", name)
		return 130
	case resultErr != nil:
		fmt.Fprintln(os.Stderr, "Error:", resultErr)
		return 1
	}
	if p, ok := a.LocalPath(); ok {
		fmt.Printf("Downloaded %s: %s\n", name, p)
	}
	return 0
}

// waitQuiet prints progress lines until the asset finishes or the user
// interrupts.
func waitQuiet(a *download.Asset) {
	finished := make(chan struct{})
	last := -1
	a.OnProgress(func(coverage float64) {
		pct := int(coverage * 100)
		if pct != last {
			last = pct
			fmt.Printf("%s: %d%%\n", a.Name(), pct)
		}
	}).OnFinish(func(string) {
		close(finished)
	}).OnError(func(error) {
		close(finished)
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-finished:
	case <-sigChan:
	}
}

func runProgressUI(service core.Service, a *download.Asset) error {
	p := tea.NewProgram(tui.InitialRootModel(service, Version, a.Name()))
	name := a.Name()
	a.OnProgress(func(coverage float64) {
		p.Send(events.AssetProgressMsg{Name: name, Coverage: coverage})
	}).OnFinish(func(rel string) {
		p.Send(events.AssetFinishedMsg{Name: name, RelativePath: rel})
	}).OnError(func(err error) {
		p.Send(events.AssetFailedMsg{Name: name, Err: err})
	})
	_, err := p.Run()
	return err
}

// deriveAssetName picks a name from the stream URL: the playlist file name,
// or its directory when the file has a generic name like index.m3u8.
func deriveAssetName(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "asset"
	}
	p := strings.TrimSuffix(u.Path, "/")
	base := strings.TrimSuffix(path.Base(p), path.Ext(p))
	switch strings.ToLower(base) {
	case "", ".", "/", "index", "master", "playlist", "prog_index", "manifest":
		dir := path.Base(path.Dir(p))
		if dir != "" && dir != "." && dir != "/" {
			return dir
		}
		if u.Host != "" {
			return u.Hostname()
		}
		return "asset"
	}
	return base
}
