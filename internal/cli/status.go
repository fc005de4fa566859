package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"peerkeeper/internal/models"
	"peerkeeper/internal/server"
)

var statusAddr string

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8080", "base URL of a running peerkeeper")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show peer connectivity of a running instance",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	resp, err := fetchStatus(cmd.Context(), http.DefaultClient, statusAddr)
	if err != nil {
		return err
	}
	renderStatus(os.Stdout, resp)
	return nil
}

func fetchStatus(ctx context.Context, client *http.Client, baseURL string) (server.StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := strings.TrimSuffix(baseURL, "/") + "/api/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return server.StatusResponse{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return server.StatusResponse{}, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return server.StatusResponse{}, fmt.Errorf("fetch status: http %d", resp.StatusCode)
	}

	var out server.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return server.StatusResponse{}, fmt.Errorf("decode status: %w", err)
	}
	return out, nil
}

func renderStatus(out io.Writer, resp server.StatusResponse) {
	snap := resp.Snapshot
	fmt.Fprintf(out, "node %s  offline=%t  avg latency %s  last connected %s\n\n",
		resp.NodeID, snap.Offline, formatLatency(snap.AverageLatency), formatTime(snap.LastConnectedAt))

	states := make(map[models.PeerAddress]string, len(resp.Peers))
	retries := make(map[models.PeerAddress]int, len(resp.Peers))
	for _, p := range resp.Peers {
		states[p.Peer] = p.State
		retries[p.Peer] = p.RetryNumber
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Peer", "State", "Connected", "Latency", "Last connected", "Retry"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	for _, entry := range snap.Peers {
		state := states[entry.Peer]
		if state == "" {
			state = "-"
		}
		table.Append([]string{
			entry.Peer.String(),
			state,
			strconv.FormatBool(entry.Status.Connected),
			formatLatency(entry.Status.Latency),
			formatTime(entry.Status.LastConnectedAt),
			strconv.Itoa(retries[entry.Peer]),
		})
	}
	table.Render()
}

func formatLatency(d *time.Duration) string {
	if d == nil {
		return "-"
	}
	return d.Round(time.Microsecond).String()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
