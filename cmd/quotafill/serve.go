package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/gezibash/quotafill/internal/app"
	"github.com/gezibash/quotafill/internal/cli"
	"github.com/gezibash/quotafill/internal/config"
	"github.com/gezibash/quotafill/internal/dashboard"
	"github.com/gezibash/quotafill/internal/fill"
	"github.com/gezibash/quotafill/internal/report"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard and its start/stop/resume API",
		Long: `serve hosts the storage test page. With the basic profile the run
starts immediately, otherwise it waits for the start button.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Name:   "serve",
				Viper:  v,
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
				Run:    runServe,
			})
		},
	}

	f := cmd.Flags()
	f.String("addr", "", "dashboard listen address (default localhost:8080)")
	f.String("title", "", "dashboard page title")
	_ = v.BindPFlag("dashboard.addr", f.Lookup("addr"))
	_ = v.BindPFlag("dashboard.title", f.Lookup("title"))
	return cmd
}

func runServe(ctx context.Context, a *app.App, _ *cli.Output) error {
	logger := a.Obs.Logger
	panel := report.NewPanel()

	session, err := a.NewSession(fill.Reporters{panel, report.Log(logger)})
	if err != nil {
		return err
	}

	srv := dashboard.New(dashboard.Config{
		Controller: session,
		Panel:      panel,
		Title:      a.Config.Dashboard.Title,
		Obs:        a.Obs,
		Logger:     logger,
	})

	if addr := a.Config.Observability.MetricsAddr; addr != "" {
		a.Obs.ServeMetrics(ctx, addr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, a.Config.Dashboard.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		return session.Close()
	})

	if strings.EqualFold(a.Config.Profile, config.ProfileBasic) {
		session.Start(gctx)
	}

	return g.Wait()
}
