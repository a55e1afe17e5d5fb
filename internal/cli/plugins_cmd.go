package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/soyeahso/loadstone/internal/config"
	"github.com/soyeahso/loadstone/internal/settings"
	"github.com/soyeahso/loadstone/internal/store"
	"github.com/spf13/cobra"
)

func newPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect and toggle plugins",
		Long: "Plugins are registered when loadstone runs; these commands work on the " +
			"settings persisted for them and take effect on the next run.",
	}

	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsToggleCmd("enable", true))
	cmd.AddCommand(newPluginsToggleCmd("disable", false))
	cmd.AddCommand(newPluginsResetCmd())
	return cmd
}

// openSettings opens the configured database for offline edits.
func openSettings() (*store.DB, *store.SQLiteSettings, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(cfg.StorePath(paths), log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return db, store.NewSQLiteSettings(db), nil
}

func newPluginsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List plugins with persisted settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, st, err := openSettings()
			if err != nil {
				return err
			}
			defer db.Close()

			plugins, err := st.Plugins(context.Background())
			if err != nil {
				return err
			}
			if len(plugins) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No plugin settings stored yet.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Plugin", "Enabled", "Settings", "Updated"})
			for _, p := range plugins {
				updated := "-"
				if !p.UpdatedAt.IsZero() {
					updated = humanize.Time(p.UpdatedAt)
				}
				t.AppendRow(table.Row{p.Name, yesNo(p.Enabled), p.Keys, updated})
			}
			t.Render()
			return nil
		},
	}
}

func newPluginsToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <plugin>",
		Short: fmt.Sprintf("Mark a plugin to %s on the next run", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, st, err := openSettings()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := st.SaveSetting(context.Background(), args[0], settings.EnableKey, enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: enable = %v\n", args[0], enabled)
			return nil
		},
	}
}

func newPluginsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <plugin>",
		Short: "Forget every persisted setting of a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, st, err := openSettings()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := st.DeleteSettings(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", args[0])
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
