package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sandboxkit/warden/internal/retry"
)

var (
	daemonURL    string
	outputFormat string
	cfgFile      string
)

var rootCmd = &cobra.Command{
	Use:   "wardenctl",
	Short: "CLI for the warden container supervisor",
	Long:  `wardenctl manages supervised containers through a running wardend daemon.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.warden/config)")
	rootCmd.PersistentFlags().StringVar(&daemonURL, "daemon", "", "daemon API URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".warden"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	viper.AutomaticEnv()
	viper.BindEnv("daemon_url", "WARDEN_DAEMON_URL")

	if err := viper.ReadInConfig(); err == nil {
		if daemonURL == "" {
			daemonURL = viper.GetString("daemon_url")
		}
	}
	if daemonURL == "" && viper.GetString("daemon_url") != "" {
		daemonURL = viper.GetString("daemon_url")
	}
	if daemonURL == "" {
		daemonURL = "http://localhost:8080"
	}
}

// GetDaemonURL returns the configured daemon URL without a trailing slash.
func GetDaemonURL() string {
	return strings.TrimRight(daemonURL, "/")
}

// IsJSONOutput reports whether JSON output is requested.
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// apiDo performs one HTTP exchange against the daemon with a small retry
// budget, so commands issued while the daemon is still coming up succeed.
func apiDo(method, path string, body interface{}) ([]byte, int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	client := &http.Client{Timeout: 10 * time.Second}
	url := GetDaemonURL() + path

	var respBody []byte
	var status int
	err := retry.Do(context.Background(), retry.DefaultConfig(), func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequest(method, url, reader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		status = resp.StatusCode
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to reach daemon at %s: %w", GetDaemonURL(), err)
	}
	return respBody, status, nil
}

func printJSON(v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
