// Package cli defines the overseer commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/viant/overseer"
	"github.com/viant/overseer/internal/log"
	"github.com/viant/overseer/model/audit"
	auditsvc "github.com/viant/overseer/service/audit"
	"github.com/viant/overseer/service/broadcast"
	"github.com/viant/overseer/service/broadcast/client"
)

// SetupCLI registers every subcommand on rootCmd.
func SetupCLI(rootCmd *cobra.Command) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane HTTP API and background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv, err := overseer.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().String("config", "", "YAML config location")
	serveCmd.Flags().String("addr", "", "HTTP listen address")
	serveCmd.Flags().String("vault", "", "vault root directory")
	serveCmd.Flags().Bool("dry-run", false, "suppress external side effects")

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Print audit entries from a vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, _ := cmd.Flags().GetString("vault")
			days, _ := cmd.Flags().GetInt("days")
			platform, _ := cmd.Flags().GetString("platform")
			action, _ := cmd.Flags().GetString("action")
			limit, _ := cmd.Flags().GetInt("limit")
			if vault == "" {
				cfg, err := overseer.LoadConfig(cmd.Context(), "")
				if err != nil {
					return err
				}
				vault = cfg.Vault
			}
			log.GetLogger().Debugf("reading audit log from %s", vault)
			auditLog, err := auditsvc.New(vault)
			if err != nil {
				return err
			}
			defer auditLog.Close()
			entries, err := auditLog.Query(cmd.Context(), auditsvc.Filter{Days: days, Platform: platform, Action: action, Limit: limit})
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	auditCmd.Flags().String("vault", "", "vault root directory")
	auditCmd.Flags().Int("days", auditsvc.DefaultDays, "number of days to read")
	auditCmd.Flags().String("platform", "", "only entries of this platform")
	auditCmd.Flags().String("action", "", "only entries with this action")
	auditCmd.Flags().Int("limit", 100, "maximum number of entries")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream status events from a running control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			statusClient := client.New(client.Config{
				URL:         wsURL(baseURL) + "/ws",
				StatusURL:   baseURL + "/status",
				MaxAttempts: maxAttempts,
			}, func(event *broadcast.Event) {
				data, _ := json.Marshal(event.Data)
				fmt.Fprintf(out, "%s  %-16s %s\n", event.Timestamp.Local().Format(time.TimeOnly), event.Type, data)
			})
			if err := statusClient.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	watchCmd.Flags().String("url", "http://localhost:8080", "control plane base URL")
	watchCmd.Flags().Int("max-attempts", 5, "reconnect attempts before falling back to polling")

	rootCmd.AddCommand(serveCmd, auditCmd, watchCmd)
}

func loadConfig(cmd *cobra.Command) (*overseer.Config, error) {
	location, _ := cmd.Flags().GetString("config")
	cfg, err := overseer.LoadConfig(cmd.Context(), location)
	if err != nil {
		return nil, err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if vault, _ := cmd.Flags().GetString("vault"); vault != "" {
		cfg.Vault = vault
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun, _ = cmd.Flags().GetBool("dry-run")
	}
	return cfg, cfg.Validate()
}

func printEntries(w io.Writer, entries []*audit.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no audit entries")
		return
	}
	for _, entry := range entries {
		fmt.Fprintf(w, "%s  %-8s %-20s %-10s %-12s %s\n",
			entry.Timestamp.Local().Format(time.DateTime), entry.Level, entry.Action, entry.Platform, entry.Actor, entry.TaskID)
	}
}

func wsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return baseURL
}
