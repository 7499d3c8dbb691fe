package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/quotafill/internal/app"
	"github.com/gezibash/quotafill/internal/cli"
	"github.com/gezibash/quotafill/internal/fill"
	"github.com/gezibash/quotafill/internal/report"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fill the store until the quota is reached or interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Name:   "run",
				Viper:  v,
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
				Run:    runFill,
			})
		},
	}
}

func runFill(ctx context.Context, a *app.App, out *cli.Output) error {
	panel := report.NewPanel()
	session, err := a.NewSession(fill.Reporters{panel, report.Log(a.Obs.Logger)})
	if err != nil {
		return err
	}
	defer session.Close()

	res := session.Run(ctx)
	snap := panel.Snapshot()

	if res.State == fill.StateIdle && res.Err != nil {
		return renderFailure(out, "run", a.Config.Store.Backend, "OPEN_FAILED", res.Err)
	}

	kv := out.KV("run").
		Set("Session", session.ID()).
		Set("State", string(res.State)).
		Set("Records", res.Records).
		Set("Stored", report.FormatMiB(res.Records)+" MB").
		Set("Result", snap.StorageResult)
	if snap.HasEstimate {
		kv.Set("Total Storage", snap.TotalStorage).
			Set("Used Storage", snap.UsedStorage).
			Set("Remaining Storage", snap.RemainingStorage)
	}
	return kv.Render()
}
