package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <container-id>",
	Short: "Continuously report a container's state",
	Long: `Watch polls the daemon and prints the container's state whenever it
changes, until interrupted.

Example:
  wardenctl watch notebook-1
  wardenctl watch notebook-1 --interval 2s`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "poll interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	id := args[0]

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	var last string
	for {
		body, status, err := apiDo("GET", "/v1/containers/"+id, nil)
		if err != nil {
			return err
		}
		switch status {
		case http.StatusOK:
			var info containerInfo
			if err := json.Unmarshal(body, &info); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if info.State != last {
				fmt.Printf("%s  %s  %s\n", time.Now().Format(time.RFC3339), id, info.State)
				last = info.State
			}
		case http.StatusNotFound:
			if last != "destroyed" {
				fmt.Printf("%s  %s  destroyed\n", time.Now().Format(time.RFC3339), id)
				last = "destroyed"
			}
		default:
			return fmt.Errorf("API error (status %d): %s", status, string(body))
		}

		select {
		case <-sigCh:
			return nil
		case <-ticker.C:
		}
	}
}
