package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Inspect and configure the container fleet",
}

var fleetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show desired replica count and per-container health",
	RunE:  runFleetStatus,
}

var fleetScaleCmd = &cobra.Command{
	Use:   "scale <count>",
	Short: "Record the desired replica count",
	Args:  cobra.ExactArgs(1),
	RunE:  runFleetScale,
}

func init() {
	rootCmd.AddCommand(fleetCmd)
	fleetCmd.AddCommand(fleetStatusCmd)
	fleetCmd.AddCommand(fleetScaleCmd)
}

type fleetStatus struct {
	Desired    int             `json:"desired"`
	Containers []containerInfo `json:"containers"`
}

func runFleetStatus(cmd *cobra.Command, args []string) error {
	body, status, err := apiDo("GET", "/v1/fleet", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", status, string(body))
	}

	var fs fleetStatus
	if err := json.Unmarshal(body, &fs); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(fs)
	}

	fmt.Printf("Desired replicas: %d\n", fs.Desired)
	if len(fs.Containers) == 0 {
		fmt.Println("No containers supervised")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "State")
	for _, c := range fs.Containers {
		table.Append(c.ID, c.State)
	}
	table.Render()
	return nil
}

func runFleetScale(cmd *cobra.Command, args []string) error {
	count, err := strconv.Atoi(args[0])
	if err != nil || count < 0 {
		return fmt.Errorf("invalid count %q, expected a non-negative integer", args[0])
	}

	body, status, err := apiDo("PUT", "/v1/fleet", map[string]int{"desired": count})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", status, string(body))
	}

	fmt.Printf("Desired replica count set to %d\n", count)
	return nil
}
