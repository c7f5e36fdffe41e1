package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"liyu1981.xyz/monitoring-mirror-service/pkg/app"
	"liyu1981.xyz/monitoring-mirror-service/pkg/config"
)

// RootOptions holds global flags and the lazily wired application.
type RootOptions struct {
	Format string // "json" | "text"

	// App is built from the environment on first use unless already set.
	App *app.App
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirrorctl",
		Short: "Operate the monitoring mirror",
		Long:  "Trigger tenant syncs, inspect cursors and pairing results, and manage tenant connections.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newRunCommand(opts, "full"))
	cmd.AddCommand(newRunCommand(opts, "incremental"))
	cmd.AddCommand(newAllCommand(opts))
	cmd.AddCommand(newCursorCommand(opts))
	cmd.AddCommand(newPairCommand(opts))
	cmd.AddCommand(newMTTRCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newTenantCommand(opts))

	return cmd
}

func (o *RootOptions) app() (*app.App, error) {
	if o.App != nil {
		return o.App, nil
	}
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	o.App = a
	return a, nil
}

// print writes v as indented json, or hands it to text for the text format.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	text(w)
	return nil
}
