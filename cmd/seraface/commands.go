package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seraface/seraface/internal/config"
)

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage workflow sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions with stored phase data",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/sessions")
		if err != nil {
			return err
		}

		var body struct {
			Sessions []string `json:"sessions"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if len(body.Sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		for _, id := range body.Sessions {
			fmt.Println(id)
		}
		return nil
	},
}

var sessionsStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show phase completion for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/sessions/"+url.PathEscape(args[0])+"/status")
		if err != nil {
			return err
		}

		var status struct {
			SessionID string          `json:"session_id"`
			Phases    map[string]bool `json:"phases"`
			Completed bool            `json:"completed"`
			Progress  float64         `json:"progress"`
		}
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		printStatus("Session", "%s", status.SessionID)
		names := make([]string, 0, len(status.Phases))
		for name := range status.Phases {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			state := "pending"
			if status.Phases[name] {
				state = "done"
			}
			printStatus(name, "%s", state)
		}
		printStatus("Progress", "%.0f%%", status.Progress)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete all phase data for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result struct {
			TotalDeleted int `json:"total_deleted"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %d phase record(s)", result.TotalDeleted)
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Look up a product through the shared cache",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("q", strings.Join(args, " "))
		if sessionID != "" {
			q.Set("session_id", sessionID)
		}

		resp, err := client.get(cmd.Context(), "/v1/products/search?"+q.Encode())
		if err != nil {
			return err
		}

		var product any
		if err := decodeJSON(resp, &product); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(product)
	},
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired phase data and recommendation records",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/admin/sweep", nil)
		if err != nil {
			return err
		}

		var body struct {
			Deleted                map[string]int `json:"deleted"`
			RecommendationsDeleted int            `json:"recommendations_deleted"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		total := body.RecommendationsDeleted
		names := make([]string, 0, len(body.Deleted))
		for name := range body.Deleted {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			printStatus(name, "%d", body.Deleted[name])
			total += body.Deleted[name]
		}
		printStatus("recommendations", "%d", body.RecommendationsDeleted)
		printSuccess("Swept %d expired record(s)", total)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, info := range config.ShowAll(cfg) {
			fmt.Printf("%-28s %-36s %s\n", info.Key, info.Value, info.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			if strings.Contains(err.Error(), "unknown config key") {
				return fmt.Errorf("%w\nvalid keys:\n  %s", err, strings.Join(config.ValidKeys(), "\n  "))
			}
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			if strings.Contains(err.Error(), "unknown config key") {
				return fmt.Errorf("%w\nvalid keys:\n  %s", err, strings.Join(config.ValidKeys(), "\n  "))
			}
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsStatusCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	searchCmd.Flags().String("session", "", "session id to record the lookup under")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
