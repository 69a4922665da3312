package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/hlsget/internal/config"
	"github.com/surge-downloader/hlsget/internal/core"
	"github.com/surge-downloader/hlsget/internal/download"
	"github.com/surge-downloader/hlsget/internal/engine/types"
	"github.com/surge-downloader/hlsget/internal/utils"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the hlsget background server (daemon)",
	Long:  `Start, stop, or check the status of the hlsget background server.`,
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the hlsget server in headless mode",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		isMaster, err := AcquireLock()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error acquiring lock: %v\n", err)
			os.Exit(1)
		}
		if !isMaster {
			fmt.Fprintln(os.Stderr, "Error: hlsget is already running.")
			os.Exit(1)
		}
		defer func() {
			if err := ReleaseLock(); err != nil {
				utils.Debug("Error releasing lock: %v", err)
			}
		}()

		portFlag, _ := cmd.Flags().GetInt("port")
		noRestore, _ := cmd.Flags().GetBool("no-restore")

		savePID()
		defer removePID()

		if err := runServer(portFlag, noRestore); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running hlsget server",
	Run: func(cmd *cobra.Command, args []string) {
		pid := readPID()
		if pid == 0 {
			fmt.Println("No running hlsget server found (PID file missing).")
			return
		}
		process, err := os.FindProcess(pid)
		if err != nil {
			fmt.Printf("Error finding process: %v\n", err)
			return
		}
		if err := process.Signal(syscall.SIGTERM); err != nil {
			fmt.Printf("Error stopping server: %v\n", err)
			return
		}
		fmt.Printf("Sent stop signal to process %d\n", pid)
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the hlsget server",
	Run: func(cmd *cobra.Command, args []string) {
		pid := readPID()
		if pid == 0 {
			fmt.Println("hlsget server is NOT running.")
			return
		}
		process, err := os.FindProcess(pid)
		if err != nil || process.Signal(syscall.Signal(0)) != nil {
			fmt.Printf("hlsget server is NOT running (process %d not found).\n", pid)
			return
		}
		fmt.Printf("hlsget server is running (PID: %d, Port: %d).\n", pid, readActivePort())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverStatusCmd)

	serverStartCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: first free port from 1717)")
	serverStartCmd.Flags().Bool("no-restore", false, "Do not restore unfinished downloads on startup")
}

func listen(portFlag int) (int, net.Listener, error) {
	if portFlag > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", portFlag))
		if err != nil {
			return 0, nil, fmt.Errorf("could not bind to port %d: %w", portFlag, err)
		}
		return portFlag, ln, nil
	}
	port, ln := findAvailablePort(DefaultPort)
	if ln == nil {
		return 0, nil, errors.New("could not find an available port")
	}
	return port, ln, nil
}

func runServer(portFlag int, noRestore bool) error {
	settings := loadSettings()

	service, err := newLocalService(settings, config.GetDatabasePath())
	if err != nil {
		return err
	}
	defer func() { _ = service.Shutdown() }()

	if settings.General.AutoRestore && !noRestore {
		restoreTasks(service)
	}

	port, ln, err := listen(portFlag)
	if err != nil {
		return err
	}
	saveActivePort(port)
	defer removeActivePort()

	server := &http.Server{
		Handler:           core.NewHandler(announcingService{service}, ensureAuthToken()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Log().Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	fmt.Printf("hlsget %s running in server mode.\n", Version)
	fmt.Printf("HTTP server listening on 127.0.0.1:%d\n", port)
	fmt.Printf("Storage: %s\n", service.Coordinator().Root())
	fmt.Println("Press Ctrl+C to exit.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		utils.Debug("HTTP shutdown: %v", err)
	}
	return nil
}

// restoreTasks adopts the engine's unfinished tasks and prints their outcomes.
func restoreTasks(service *core.LocalService) {
	n, err := service.Restore(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not restore downloads: %v\n", err)
		return
	}
	if n == 0 {
		return
	}
	fmt.Printf("Restored %d download(s)\n", n)
	for _, a := range service.Coordinator().Active() {
		watchAsset(a)
	}
}

// watchAsset prints the outcome of a daemon download.
func watchAsset(a *download.Asset) {
	name := a.Name()
	a.OnFinish(func(rel string) {
		fmt.Printf("Completed: %s -> %s\n", name, rel)
	}).OnError(func(err error) {
		fmt.Printf("Error: %s: %v\n", name, err)
	})
}

// announcingService prints the downloads queued through the API.
type announcingService struct {
	*core.LocalService
}

func (s announcingService) Add(url, name string) (*types.AssetStatus, error) {
	st, err := s.LocalService.Add(url, name)
	if err != nil {
		return nil, err
	}
	if a := s.Asset(name); a != nil && st.State == types.Downloading.String() {
		fmt.Printf("Queued: %s\n", name)
		watchAsset(a)
	}
	return st, nil
}
