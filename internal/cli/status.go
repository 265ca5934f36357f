package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/harun/wagateway/internal/daemon"
	"github.com/harun/wagateway/pkg/gateway"
	"github.com/spf13/cobra"
)

const statusTimeout = 5 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show whether the gateway daemon is running and list its sessions.
The session list is fetched live from the control API.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type sessionRow struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	LastActivity time.Time `json:"lastActivity"`
	RetryCount   int       `json:"retryCount"`
	LastError    string    `json:"lastError"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := cfg.PIDFile()
	pid, err := daemon.ReadPID(pidFile)
	if err != nil || !daemon.ProcessAlive(pid) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	fmt.Fprintf(out, "Status: running\n")
	fmt.Fprintf(out, "PID: %d\n", pid)
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	baseURL := controlURL(cfg.Gateway.Host, cfg.Gateway.Port)
	sessions, err := querySessions(ctx, baseURL, cfg.Gateway.SharedSecret)
	if err != nil {
		fmt.Fprintf(out, "Sessions: unavailable (%v)\n", err)
		return nil
	}
	printSessions(out, sessions)
	return nil
}

// controlURL maps a listen address to one a local client can dial.
func controlURL(host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func querySessions(ctx context.Context, baseURL, secret string) ([]sessionRow, error) {
	body, err := json.Marshal(gateway.RPCRequest{
		ID:      "cli-status",
		Method:  "sessions.status",
		JSONRPC: "2.0",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Gateway-Secret", secret)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("control API returned %s", resp.Status)
	}

	var rpcResp struct {
		Result *struct {
			Sessions []sessionRow `json:"sessions"`
		} `json:"result"`
		Error *gateway.RPCError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	if rpcResp.Result == nil {
		return nil, fmt.Errorf("empty response")
	}
	return rpcResp.Result.Sessions, nil
}

func printSessions(out io.Writer, sessions []sessionRow) {
	fmt.Fprintf(out, "Sessions: %d\n", len(sessions))
	if len(sessions) == 0 {
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tLAST ACTIVITY\tRETRIES\tLAST ERROR")
	for _, s := range sessions {
		last := "-"
		if !s.LastActivity.IsZero() {
			last = formatDuration(time.Since(s.LastActivity)) + " ago"
		}
		lastErr := s.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.State, last, s.RetryCount, lastErr)
	}
	tw.Flush()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
