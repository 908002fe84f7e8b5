// ABOUTME: poolctl is the operator CLI for the recommendation engine
// ABOUTME: Talks to the running service's REST API for decisions, refills and budget
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	baseURL string
	timeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:          "poolctl",
		Short:        "Operator CLI for the adaptive recommendation engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "addr", envOr("ENGINE_ADDR", "http://localhost:9220"), "engine base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")

	root.AddCommand(decisionCmd(), refillCmd(), poolCmd(), budgetCmd(), metricsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func decisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decision",
		Short: "Inspect and control strategy decisions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the active decision",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodGet, "/v1/strategy/current")
			},
		},
		&cobra.Command{
			Use:   "generate",
			Short: "Run one decision cycle now",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodPost, "/v1/strategy/generate")
			},
		},
		&cobra.Command{
			Use:   "invalidate",
			Short: "Demote the active decision back to defaults",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodPost, "/v1/strategy/invalidate")
			},
		},
	)

	history := &cobra.Command{
		Use:   "history",
		Short: "List recent decisions",
	}
	limit := history.Flags().Int("limit", 10, "number of decisions to list")
	history.RunE = func(cmd *cobra.Command, args []string) error {
		return call(http.MethodGet, fmt.Sprintf("/v1/strategy/history?limit=%d", *limit))
	}
	cmd.AddCommand(history)
	return cmd
}

func refillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refill",
		Short: "Inspect and control pool refills",
	}

	trigger := &cobra.Command{
		Use:   "trigger",
		Short: "Run a refill now",
	}
	force := trigger.Flags().Bool("force", false, "skip threshold and cooldown checks (quota still applies)")
	trigger.RunE = func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, fmt.Sprintf("/v1/refill?force=%t", *force))
	}

	cmd.AddCommand(
		trigger,
		&cobra.Command{
			Use:   "state",
			Short: "Show the durable admission-control state",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodGet, "/v1/refill/state")
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Clear the refill counters",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodPost, "/v1/refill/reset")
			},
		},
	)
	return cmd
}

func poolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show the current recommendation pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/recommendations")
		},
	}
}

func budgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show token and cost usage",
	}
	days := cmd.Flags().Int("days", 1, "trailing window in days")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return call(http.MethodGet, fmt.Sprintf("/v1/usage/summary?days=%d", *days))
	}
	return cmd
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show operational counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/metrics")
		},
	}
}

// call performs one request and pretty-prints the JSON response.
func call(method, path string) error {
	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequest(method, baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if len(body) > 0 {
		var pretty bytes.Buffer
		if json.Indent(&pretty, body, "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(body))
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("engine returned status %d", resp.StatusCode)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
