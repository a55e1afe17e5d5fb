package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or write persisted plugin settings",
	}

	cmd.AddCommand(newSettingsGetCmd())
	cmd.AddCommand(newSettingsSetCmd())
	return cmd
}

func newSettingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <plugin> [key]",
		Short: "Print one or all persisted settings of a plugin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, st, err := openSettings()
			if err != nil {
				return err
			}
			defer db.Close()

			values, err := st.LoadSettings(context.Background(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 2 {
				v, ok := values[args[1]]
				if !ok {
					return fmt.Errorf("%s has no stored setting %q", args[0], args[1])
				}
				return printValue(out, v)
			}
			if len(values) == 0 {
				return fmt.Errorf("no settings stored for %s", args[0])
			}
			for _, k := range slices.Sorted(maps.Keys(values)) {
				fmt.Fprintf(out, "%s = %v\n", k, values[k])
			}
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <plugin> <key> <value>",
		Short: "Store a setting value; the plugin validates it on the next run",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, st, err := openSettings()
			if err != nil {
				return err
			}
			defer db.Close()

			value := parseValue(args[2])
			if err := st.SaveSetting(context.Background(), args[0], args[1], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s.%s = %v\n", args[0], args[1], value)
			return nil
		},
	}
}
