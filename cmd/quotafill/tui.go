package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/quotafill/cmd/quotafill/tui"
	"github.com/gezibash/quotafill/internal/app"
	"github.com/gezibash/quotafill/internal/cli"
	"github.com/gezibash/quotafill/internal/config"
	"github.com/gezibash/quotafill/internal/fill"
	"github.com/gezibash/quotafill/internal/report"
)

func newTUICmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive terminal control (s start, x stop, r resume, q quit)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Name:      "tui",
				Viper:     v,
				LogToFile: true,
				Stdout:    cmd.OutOrStdout(),
				Stderr:    cmd.ErrOrStderr(),
				Run:       runTUI,
			})
		},
	}
}

func runTUI(ctx context.Context, a *app.App, _ *cli.Output) error {
	panel := report.NewPanel()
	session, err := a.NewSession(fill.Reporters{panel, report.Log(a.Obs.Logger)})
	if err != nil {
		return err
	}
	defer session.Close()

	if strings.EqualFold(a.Config.Profile, config.ProfileBasic) {
		session.Start(ctx)
	}

	return tui.Run(ctx, tui.Options{
		Controller: session,
		Panel:      panel,
		Profile:    a.Config.Profile,
		Backend:    a.Config.Store.Backend,
	})
}
