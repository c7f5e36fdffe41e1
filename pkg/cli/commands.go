package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"liyu1981.xyz/monitoring-mirror-service/pkg/mirror"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

// ErrRunNotDone is returned when a triggered run ends in any state but Done,
// so scripts can rely on the exit code.
type ErrRunNotDone struct {
	Terminal string
}

func (e *ErrRunNotDone) Error() string {
	return "run finished " + e.Terminal
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func printRunText(w io.Writer, r mirror.RunResult) {
	fmt.Fprintf(w, "%s %s %s run %s in %dms\n", r.TenantID, r.Mode, r.Terminal(), r.RunID, r.ElapsedMillis)
	for _, s := range r.Stages {
		line := fmt.Sprintf("  %-9s fetched=%d created=%d updated=%d unchanged=%d skipped=%d",
			s.Stage, s.Fetched, s.Counts.Created, s.Counts.Updated, s.Counts.Unchanged, s.Counts.Skipped)
		if s.Relinked > 0 {
			line += fmt.Sprintf(" relinked=%d", s.Relinked)
		}
		if s.Error != "" {
			line += " error=" + s.Error
		}
		fmt.Fprintln(w, line)
	}
	if r.Alarms != nil {
		fmt.Fprintf(w, "  alarms    created=%d updated=%d skipped=%d\n", r.Alarms.Created, r.Alarms.Updated, r.Alarms.Skipped)
	}
	if r.Pairing != nil {
		fmt.Fprintf(w, "  pairing   paired=%d open=%d anomalies=%d\n", r.Pairing.Paired, len(r.Pairing.OpenEventIDs), len(r.Pairing.Anomalies))
	}
	if r.Error != "" {
		fmt.Fprintln(w, "  error: "+r.Error)
	}
}

func newRunCommand(opts *RootOptions, mode models.SyncMode) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode) + " <tenant-id>",
		Short: fmt.Sprintf("Run a %s sync for one tenant", mode),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app()
			if err != nil {
				return err
			}
			result := a.Supervisor.Run(cmd.Context(), strings.TrimSpace(args[0]), mode)
			if err := opts.print(cmd.OutOrStdout(), result, func(w io.Writer) { printRunText(w, result) }); err != nil {
				return err
			}
			if result.State != mirror.RunStateDone {
				return &ErrRunNotDone{Terminal: result.Terminal()}
			}
			return nil
		},
	}
}

func newAllCommand(opts *RootOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run one sync mode for every enabled tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			syncMode := models.SyncMode(mode)
			if syncMode != models.SyncModeFull && syncMode != models.SyncModeIncremental {
				return fmt.Errorf("invalid mode %q: must be full or incremental", mode)
			}
			a, err := opts.app()
			if err != nil {
				return err
			}
			results, err := a.Supervisor.RunAll(cmd.Context(), syncMode)
			if err != nil {
				return err
			}
			err = opts.print(cmd.OutOrStdout(), results, func(w io.Writer) {
				for _, r := range results {
					printRunText(w, r)
				}
			})
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.State != mirror.RunStateDone {
					return &ErrRunNotDone{Terminal: fmt.Sprintf("%s for tenant %s", r.Terminal(), r.TenantID)}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(models.SyncModeIncremental), "sync mode (full|incremental)")
	return cmd
}

func newCursorCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cursor <tenant-id>",
		Short: "Show when a tenant last finished a full and an incremental sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app()
			if err != nil {
				return err
			}
			cursor, err := a.Mirror.Cursor.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), cursor, func(w io.Writer) {
				fmt.Fprintf(w, "tenant:           %s\n", cursor.TenantID)
				fmt.Fprintf(w, "last full:        %s\n", formatTime(cursor.LastFullSyncAt))
				fmt.Fprintf(w, "last incremental: %s\n", formatTime(cursor.LastIncrementalSyncAt))
			})
		},
	}
}

// windowFlags parses --from/--to (RFC3339) with --since as the fallback.
type windowFlags struct {
	from, to string
	since    time.Duration
}

func (f *windowFlags) register(cmd *cobra.Command, defaultSince time.Duration) {
	cmd.Flags().StringVar(&f.from, "from", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&f.to, "to", "", "window end (RFC3339), defaults to now")
	cmd.Flags().DurationVar(&f.since, "since", defaultSince, "window length when --from is not set")
}

func (f *windowFlags) window(now time.Time) (models.TimeWindow, error) {
	window := models.TimeWindow{To: now.UTC()}
	if f.to != "" {
		to, err := time.Parse(time.RFC3339, f.to)
		if err != nil {
			return window, fmt.Errorf("invalid --to: %w", err)
		}
		window.To = to.UTC()
	}
	window.From = window.To.Add(-f.since)
	if f.from != "" {
		from, err := time.Parse(time.RFC3339, f.from)
		if err != nil {
			return window, fmt.Errorf("invalid --from: %w", err)
		}
		window.From = from.UTC()
	}
	if !window.From.Before(window.To) {
		return window, fmt.Errorf("window start %s is not before end %s", window.From, window.To)
	}
	return window, nil
}

func newPairCommand(opts *RootOptions) *cobra.Command {
	var flags windowFlags
	cmd := &cobra.Command{
		Use:   "pair <tenant-id>",
		Short: "Pair stored problem and resolution events without contacting the remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app()
			if err != nil {
				return err
			}
			window, err := flags.window(time.Now())
			if err != nil {
				return err
			}
			report, err := a.Mirror.Pairing.Pair(cmd.Context(), args[0], window)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), report, func(w io.Writer) {
				fmt.Fprintf(w, "paired: %d\nopen: %d\nalarms touched: %d\n", report.Paired, len(report.OpenEventIDs), report.AlarmsTouched)
				for _, anomaly := range report.Anomalies {
					fmt.Fprintln(w, "anomaly: "+anomaly.Error())
				}
			})
		},
	}
	flags.register(cmd, 720*time.Hour)
	return cmd
}

type mttrOutput struct {
	TenantID    string    `json:"tenant_id"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	MTTRMinutes *float64  `json:"mttr_minutes"`
	Samples     int64     `json:"samples"`
}

func newMTTRCommand(opts *RootOptions) *cobra.Command {
	var flags windowFlags
	cmd := &cobra.Command{
		Use:   "mttr <tenant-id>",
		Short: "Mean time to resolve for problems raised in a window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app()
			if err != nil {
				return err
			}
			window, err := flags.window(time.Now())
			if err != nil {
				return err
			}
			minutes, samples, err := a.Mirror.Pairing.MTTR(cmd.Context(), args[0], window)
			if err != nil {
				return err
			}
			out := mttrOutput{TenantID: args[0], From: window.From, To: window.To, Samples: samples}
			if samples > 0 {
				out.MTTRMinutes = &minutes
			}
			return opts.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				if samples == 0 {
					fmt.Fprintln(w, "no paired incidents in window")
					return
				}
				fmt.Fprintf(w, "mttr: %.2f minutes over %d incidents\n", minutes, samples)
			})
		},
	}
	flags.register(cmd, 720*time.Hour)
	return cmd
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the local store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app()
			if err != nil {
				return err
			}
			if err := a.Db.Migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newTenantCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant connections",
	}

	var conn models.TenantConnection
	var disabled bool
	add := &cobra.Command{
		Use:   "add <tenant-id>",
		Short: "Create or replace a tenant's connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app()
			if err != nil {
				return err
			}
			conn.TenantID = strings.TrimSpace(args[0])
			conn.Enabled = !disabled
			if err := a.Connections.Save(cmd.Context(), conn); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s saved (enabled=%t)\n", conn.TenantID, conn.Enabled)
			return nil
		},
	}
	add.Flags().StringVar(&conn.BaseURL, "url", "", "remote API base url (required)")
	_ = add.MarkFlagRequired("url")
	add.Flags().StringVar(&conn.Username, "user", "", "remote API user")
	add.Flags().StringVar(&conn.Password, "password", "", "remote API password")
	add.Flags().BoolVar(&disabled, "disabled", false, "store the connection without scheduling it")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tenants with an enabled connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app()
			if err != nil {
				return err
			}
			tenants, err := a.Connections.Tenants(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), tenants, func(w io.Writer) {
				for _, t := range tenants {
					fmt.Fprintln(w, t)
				}
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}
