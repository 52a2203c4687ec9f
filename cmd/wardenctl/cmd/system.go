package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var systemCmd = &cobra.Command{
	Use:   "system",
	Short: "Show daemon host diagnostics",
	RunE:  runSystem,
}

func init() {
	rootCmd.AddCommand(systemCmd)
}

type systemInfo struct {
	Hostname       string  `json:"hostname"`
	Platform       string  `json:"platform"`
	UptimeSeconds  uint64  `json:"uptime_seconds"`
	CPUCount       int     `json:"cpu_count"`
	CPUPercent     float64 `json:"cpu_percent"`
	Load1          float64 `json:"load_1"`
	Load5          float64 `json:"load_5"`
	Load15         float64 `json:"load_15"`
	MemTotalBytes  uint64  `json:"mem_total_bytes"`
	MemUsedBytes   uint64  `json:"mem_used_bytes"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	DiskTotalBytes uint64  `json:"disk_total_bytes"`
	DiskUsedBytes  uint64  `json:"disk_used_bytes"`
}

func runSystem(cmd *cobra.Command, args []string) error {
	body, status, err := apiDo("GET", "/system", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", status, string(body))
	}

	var info systemInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(info)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	table.Append("Hostname", info.Hostname)
	table.Append("Platform", info.Platform)
	table.Append("Uptime", (time.Duration(info.UptimeSeconds) * time.Second).String())
	table.Append("CPUs", fmt.Sprintf("%d", info.CPUCount))
	table.Append("CPU Usage", fmt.Sprintf("%.1f%%", info.CPUPercent))
	table.Append("Load (1/5/15)", fmt.Sprintf("%.2f / %.2f / %.2f", info.Load1, info.Load5, info.Load15))
	table.Append("Memory", fmt.Sprintf("%s / %s (%.1f%%)", formatBytes(info.MemUsedBytes), formatBytes(info.MemTotalBytes), info.MemUsedPercent))
	table.Append("Disk", fmt.Sprintf("%s / %s", formatBytes(info.DiskUsedBytes), formatBytes(info.DiskTotalBytes)))
	table.Render()
	return nil
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
