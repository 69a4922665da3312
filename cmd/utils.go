package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/hlsget/internal/config"
	"github.com/surge-downloader/hlsget/internal/core"
	"github.com/surge-downloader/hlsget/internal/engine/types"
	"github.com/surge-downloader/hlsget/internal/utils"
)

// DefaultPort is where the daemon starts looking for a free port
const DefaultPort = 1717

var errNoDaemon = errors.New("no running hlsget server found (start one with 'hlsget server start')")

func appFile(name string) string {
	return filepath.Join(config.GetAppDir(), name)
}

// findAvailablePort tries ports starting from 'start' until one is available
func findAvailablePort(start int) (int, net.Listener) {
	for port := start; port < start+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return port, ln
		}
	}
	return 0, nil
}

// saveActivePort writes the active port for CLI discovery
func saveActivePort(port int) {
	if err := os.WriteFile(appFile("port"), []byte(strconv.Itoa(port)), 0644); err != nil {
		utils.Debug("Error writing port file: %v", err)
		return
	}
	utils.Debug("HTTP server listening on port %d", port)
}

// removeActivePort cleans up the port file on exit
func removeActivePort() {
	if err := os.Remove(appFile("port")); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing port file: %v", err)
	}
}

// readActivePort reads the port from the port file
func readActivePort() int {
	data, err := os.ReadFile(appFile("port"))
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return port
}

func savePID() {
	if err := os.WriteFile(appFile("pid"), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		utils.Debug("Error writing PID file: %v", err)
	}
}

func removePID() {
	if err := os.Remove(appFile("pid")); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing PID file: %v", err)
	}
}

func readPID() int {
	data, err := os.ReadFile(appFile("pid"))
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

// ensureAuthToken returns the daemon token, creating it on first use.
func ensureAuthToken() string {
	path := appFile("token")
	if data, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token
		}
	}
	token := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err == nil {
		if err := os.WriteFile(path, []byte(token), 0600); err != nil {
			utils.Debug("Error writing token file: %v", err)
		}
	}
	return token
}

// remoteService builds a client for the daemon named by --host/--token,
// falling back to the local port file and token.
func remoteService(cmd *cobra.Command) (*core.RemoteService, error) {
	host, _ := cmd.Flags().GetString("host")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = strings.TrimSpace(os.Getenv(config.EnvPrefix + "_TOKEN"))
	}

	if host == "" {
		port := readActivePort()
		if port == 0 {
			return nil, errNoDaemon
		}
		host = fmt.Sprintf("127.0.0.1:%d", port)
	}

	baseURL, err := resolveConnectBaseURL(host, false)
	if err != nil {
		return nil, err
	}
	if token == "" {
		if !isLoopbackHost(hostnameFromTarget(host)) {
			return nil, fmt.Errorf("no token provided for %s, use --token or set %s_TOKEN", host, config.EnvPrefix)
		}
		token = ensureAuthToken()
	}
	return core.NewRemoteService(baseURL, token), nil
}

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "", "Daemon address (host:port or URL); defaults to the local server")
	cmd.Flags().String("token", "", "Bearer token for the daemon (or set HLSGET_TOKEN)")
}

// printStatuses writes statuses as a table or JSON.
func printStatuses(w io.Writer, statuses []types.AssetStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if statuses == nil {
			statuses = []types.AssetStatus{}
		}
		return enc.Encode(statuses)
	}
	if len(statuses) == 0 {
		_, err := fmt.Fprintln(w, "No assets.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tPROGRESS\tTASK\tPATH")
	for _, st := range statuses {
		state := st.State
		if st.Error != "" {
			state += " (failed)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\t%s\n",
			st.Name, state, st.Progress*100, types.TaskID(st.TaskID).Short(), st.LocalPath)
	}
	return tw.Flush()
}

// printStatus writes the details of one asset.
func printStatus(w io.Writer, st *types.AssetStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Fprintf(w, "Name:     %s\n", st.Name)
	fmt.Fprintf(w, "State:    %s\n", st.State)
	fmt.Fprintf(w, "Progress: %.1f%%\n", st.Progress*100)
	if st.URL != "" {
		fmt.Fprintf(w, "URL:      %s\n", st.URL)
	}
	if st.TaskID != "" {
		fmt.Fprintf(w, "Task:     %s\n", st.TaskID)
	}
	if st.LocalPath != "" {
		size := ""
		if info, err := os.Stat(st.LocalPath); err == nil {
			size = " (" + utils.ConvertBytesToHumanReadable(info.Size()) + ")"
		}
		fmt.Fprintf(w, "Path:     %s%s\n", st.LocalPath, size)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", st.Error)
	}
	return nil
}
