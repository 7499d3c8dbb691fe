package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/quotafill/internal/app"
	"github.com/gezibash/quotafill/internal/cli"
	"github.com/gezibash/quotafill/internal/report"
)

func newClearCmd(v *viper.Viper) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record in the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Name:   "clear",
				Viper:  v,
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
				Run:    runClear,
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func runClear(ctx context.Context, a *app.App, out *cli.Output) error {
	store, err := a.OpenStore(ctx)
	if err != nil {
		return renderFailure(out, "clear", a.Config.Store.Backend, "OPEN_FAILED", err)
	}
	defer store.Close()

	count, err := store.Count(ctx)
	if err != nil {
		return err
	}
	freed := store.Usage()

	if err := store.Clear(ctx); err != nil {
		return err
	}

	return out.Result("clear", "Cleared "+store.ObjectStore()).
		With("database", store.Name()).
		With("backend", store.Backend()).
		With("records", count).
		With("freed", report.FormatBytes(freed)).
		Render()
}
