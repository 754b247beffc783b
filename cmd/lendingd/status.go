package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"library-lending/pkg/httpclient"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe a running lendingd instance",
	RunE: func(cmd *cobra.Command, _ []string) error {
		url := fmt.Sprintf("http://%s/api/healthz", statusAddr)
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := httpclient.New().Do(req)
		if err != nil {
			return fmt.Errorf("lendingd unreachable at %s: %w", statusAddr, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
		}
		var out struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		fmt.Printf("lendingd at %s: %s\n", statusAddr, out.Status)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "localhost:8080", "host:port of the running instance")
}
