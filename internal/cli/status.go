package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/soyeahso/loadstone/internal/config"
	"github.com/soyeahso/loadstone/internal/domain"
	"github.com/soyeahso/loadstone/internal/store"
	"github.com/soyeahso/loadstone/internal/version"
	"github.com/spf13/cobra"
)

var shortUnits, _ = durafmt.DefaultUnitsCoder.Decode("y:yrs,wk:wks,d:d,h:h,m:m,s:s,ms:ms,us:us")

func newStatusCmd() *cobra.Command {
	var sessions int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and recent game sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "loadstone %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Plugins: %s\n", paths.Plugins)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			server := cfg.Game.ServerURL
			if server == "" {
				server = "(not configured)"
			}
			fmt.Fprintf(out, "Game:    server=%s fps=%d\n", server, cfg.Game.FPS)
			fmt.Fprintf(out, "Queue:   interval=%dms coalesce=%v\n", cfg.PacketQueue.IntervalMs, cfg.PacketQueue.Coalesce)
			if cfg.Gateway.IsEnabled() {
				fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s\n",
					cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode)
			} else {
				fmt.Fprintln(out, "Gateway: disabled")
			}
			if r := cfg.Relay; r != nil {
				fmt.Fprintf(out, "Relay:   server=%s:%d nick=%s channel=%s tls=%v\n",
					r.Server, r.Port, r.Nick, r.Channel, r.UseTLS)
			} else {
				fmt.Fprintln(out, "Relay:   (not configured)")
			}
			if len(cfg.Plugins.Dirs) > 0 {
				fmt.Fprintf(out, "Scripts: %s\n", strings.Join(cfg.Plugins.Dirs, ", "))
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			path := cfg.StorePath(paths)
			if path == ":memory:" {
				return nil
			}
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintln(out, "\nNo sessions recorded yet.")
				return nil
			}
			db, err := store.Open(path, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			recent, err := store.NewSessionLog(db).Recent(context.Background(), sessions)
			if err != nil {
				return err
			}
			printSessions(out, recent, time.Now())
			return nil
		},
	}

	cmd.Flags().IntVar(&sessions, "sessions", 10, "number of recent sessions to show")
	return cmd
}

// printSessions lists sessions newest first with their length.
func printSessions(w io.Writer, sessions []domain.SessionInfo, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "\nNo sessions recorded yet.")
		return
	}
	var total time.Duration
	fmt.Fprintf(w, "\nRecent sessions (%s):\n", humanize.Comma(int64(len(sessions))))
	for _, s := range sessions {
		d := s.Duration(now)
		total += d
		state := ""
		if s.Active() {
			state = " (active)"
		}
		fmt.Fprintf(w, "  %-16s %-14s %s%s\n",
			s.Player,
			humanize.RelTime(s.StartedAt, now, "ago", "from now"),
			formatDuration(d),
			state)
	}
	fmt.Fprintf(w, "  total played: %s\n", formatDuration(total))
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	return durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2).Format(shortUnits)
}
