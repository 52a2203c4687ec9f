package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	startImage    string
	startEnv      []string
	startHostPort int
)

var containersCmd = &cobra.Command{
	Use:   "containers",
	Short: "Manage supervised containers",
	Long:  `Commands for listing, starting and destroying containers supervised by wardend.`,
}

var containersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all supervised containers",
	RunE:  runContainersList,
}

var containersStatusCmd = &cobra.Command{
	Use:   "status <container-id>",
	Short: "Show the state of one container",
	Args:  cobra.ExactArgs(1),
	RunE:  runContainersStatus,
}

var containersStartCmd = &cobra.Command{
	Use:   "start <container-id>",
	Short: "Start a container under supervision",
	Long: `Start a container and place it under supervision. The daemon keeps
probing its health endpoint and tracks its lifecycle until it is destroyed.

Example:
  wardenctl containers start notebook-1
  wardenctl containers start notebook-1 --image marimo/notebook:latest --env MARIMO_TOKEN=secret`,
	Args: cobra.ExactArgs(1),
	RunE: runContainersStart,
}

var containersDestroyCmd = &cobra.Command{
	Use:   "destroy <container-id>",
	Short: "Tear a container down permanently",
	Args:  cobra.ExactArgs(1),
	RunE:  runContainersDestroy,
}

func init() {
	rootCmd.AddCommand(containersCmd)
	containersCmd.AddCommand(containersListCmd)
	containersCmd.AddCommand(containersStatusCmd)
	containersCmd.AddCommand(containersStartCmd)
	containersCmd.AddCommand(containersDestroyCmd)

	containersStartCmd.Flags().StringVar(&startImage, "image", "", "image to run (default from daemon config)")
	containersStartCmd.Flags().StringSliceVar(&startEnv, "env", nil, "environment variables as KEY=VALUE")
	containersStartCmd.Flags().IntVar(&startHostPort, "host-port", 0, "host port to bind (0 lets the runtime choose)")
}

type containerInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func runContainersList(cmd *cobra.Command, args []string) error {
	body, status, err := apiDo("GET", "/v1/containers", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", status, string(body))
	}

	var containers []containerInfo
	if err := json.Unmarshal(body, &containers); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(containers)
	}

	if len(containers) == 0 {
		fmt.Println("No containers supervised")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "State")
	for _, c := range containers {
		table.Append(c.ID, c.State)
	}
	table.Render()
	return nil
}

func runContainersStatus(cmd *cobra.Command, args []string) error {
	body, status, err := apiDo("GET", "/v1/containers/"+args[0], nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("container %s not found", args[0])
	}
	if status != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", status, string(body))
	}

	var info containerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(info)
	}
	fmt.Printf("Container: %s\nState:     %s\n", info.ID, info.State)
	return nil
}

func runContainersStart(cmd *cobra.Command, args []string) error {
	env := make(map[string]string, len(startEnv))
	for _, kv := range startEnv {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			return fmt.Errorf("invalid --env value %q, expected KEY=VALUE", kv)
		}
		env[key] = value
	}

	req := map[string]interface{}{}
	if startImage != "" {
		req["image"] = startImage
	}
	if len(env) > 0 {
		req["env"] = env
	}
	if startHostPort != 0 {
		req["host_port"] = startHostPort
	}

	body, status, err := apiDo("POST", "/v1/containers/"+args[0]+"/start", req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", status, string(body))
	}

	fmt.Printf("Container %s started\n", args[0])
	return nil
}

func runContainersDestroy(cmd *cobra.Command, args []string) error {
	body, status, err := apiDo("POST", "/v1/containers/"+args[0]+"/destroy", nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("container %s not found", args[0])
	}
	if status != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", status, string(body))
	}

	var resp map[string]string
	if err := json.Unmarshal(body, &resp); err == nil && resp["warning"] != "" {
		fmt.Printf("Container %s destroyed (cleanup warning: %s)\n", args[0], resp["warning"])
		return nil
	}
	fmt.Printf("Container %s destroyed\n", args[0])
	return nil
}

