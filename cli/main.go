package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/botgate/pkg/client"
)

var (
	serverURL  string
	adminToken string
	Version    = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "botgate",
		Short: "Botgate - Access control and rate limiting for chat bots",
		Long:  "Inspect and exercise the botgate access-control service: run access checks, list observed users, and query service health",
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Botgate server URL")
	rootCmd.PersistentFlags().StringVar(&adminToken, "admin-token", os.Getenv("BOTGATE_ADMIN_TOKEN"), "Admin bearer token for user endpoints")

	rootCmd.AddCommand(
		statusCmd(),
		usersCmd(),
		userCmd(),
		checkCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(client.Options{
		BaseURL:    serverURL,
		AdminToken: adminToken,
	})
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service health and user totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()

			healthInfo, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Botgate Status\n")
			fmt.Printf("==============\n\n")
			for _, key := range []string{"healthy", "database_reachable", "secret_store_reachable"} {
				if v, ok := healthInfo[key]; ok {
					fmt.Printf("%-14s %v\n", strings.ReplaceAll(key, "_", " ")+":", v)
				}
			}

			list, err := c.Users(cmd.Context())
			if err != nil {
				fmt.Printf("\nUsers:         unavailable (%v)\n", err)
				return nil
			}

			allowed := 0
			for _, u := range list {
				if u.Status == "allowed" {
					allowed++
				}
			}
			fmt.Printf("\nTotal Users:   %d\n", len(list))
			fmt.Printf("Allowed:       %d\n", allowed)
			fmt.Printf("Denied:        %d\n", len(list)-allowed)
			return nil
		},
	}
}

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "users",
		Aliases: []string{"ls", "list"},
		Short:   "List users observed by the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := newClient().Users(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER ID\tSTATUS\tCHAT\tUPDATED")
			fmt.Fprintln(w, "-------\t------\t----\t-------")

			for _, u := range list {
				updated := time.Since(u.UpdatedAt).Round(time.Second)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s ago\n", u.UserID, u.Status, u.ChatID, updated)
			}

			w.Flush()
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user [user-id]",
		Short: "Show details for a specific user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := newClient().User(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("User: %s\n", u.UserID)
			fmt.Printf("========================================\n\n")
			fmt.Printf("Status:       %s\n", u.Status)
			fmt.Printf("Chat ID:      %s\n", u.ChatID)
			fmt.Printf("Updated:      %s (%s ago)\n", u.UpdatedAt.Format(time.RFC3339), time.Since(u.UpdatedAt).Round(time.Second))
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	var roleID, messageID, chatID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check [user-id]",
		Short: "Run an access check for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision, err := newClient().Check(cmd.Context(), client.CheckParams{
				UserID:    args[0],
				RoleID:    roleID,
				MessageID: messageID,
				ChatID:    chatID,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(decision)
			}

			fmt.Printf("Access:       %s\n", decision.Access)
			fmt.Printf("Permissions:  %s\n", decision.Permissions)
			if decision.RateLimitedUntil != nil {
				fmt.Printf("Blocked Until: %s\n", decision.RateLimitedUntil.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&roleID, "role", "", "Role to authorize against")
	cmd.Flags().StringVar(&messageID, "message-id", "", "Message identifier for the audit trail")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "Chat identifier for the audit trail")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the raw decision as JSON")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("botgate version %s\n", Version)
		},
	}
}
