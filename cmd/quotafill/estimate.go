package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/quotafill/internal/app"
	"github.com/gezibash/quotafill/internal/cli"
	"github.com/gezibash/quotafill/internal/report"
)

func newEstimateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate",
		Short: "Print total, used, and remaining storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Name:   "estimate",
				Viper:  v,
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
				Run:    runEstimate,
			})
		},
	}
}

func runEstimate(ctx context.Context, a *app.App, out *cli.Output) error {
	store, err := a.OpenStore(ctx)
	if err != nil {
		return renderFailure(out, "estimate", a.Config.Store.Backend, "OPEN_FAILED", err)
	}
	defer store.Close()

	panel := report.NewPanel()
	if err := panel.UpdateEstimate(ctx, store); err != nil {
		return renderFailure(out, "estimate", store.Backend(), "", err)
	}
	snap := panel.Snapshot()

	count, err := store.Count(ctx)
	if err != nil {
		return err
	}

	return out.KV("estimate").
		Set("Database", store.Name()).
		Set("Object Store", store.ObjectStore()).
		Set("Backend", store.Backend()).
		Set("Records", count).
		Set("Total Storage", snap.TotalStorage).
		Set("Used Storage", snap.UsedStorage).
		Set("Remaining Storage", snap.RemainingStorage).
		Set("Quota Bytes", snap.Estimate.Quota).
		Set("Usage Bytes", snap.Estimate.Usage).
		Render()
}
