package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/quotafill/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(viper.New()).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quotafill",
		Short: "Fill a record store until its storage quota is reached",
		Long: `quotafill writes 1 MiB records into a local database until the
store's quota is exhausted, reporting progress as it goes.

Profiles:
  basic   fixed "X" payloads, no throttle, no quota metrics
  quota   random JSON payloads, 50ms throttle, quota metrics`,
		SilenceUsage: true,
	}

	config.BindFlags(rootCmd, v)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file path")
	pf.StringP("output", "o", "text", "output format (text, json, markdown)")
	_ = v.BindPFlag("config", pf.Lookup("config"))
	_ = v.BindPFlag("output", pf.Lookup("output"))

	rootCmd.AddCommand(newRunCmd(v))
	rootCmd.AddCommand(newServeCmd(v))
	rootCmd.AddCommand(newTUICmd(v))
	rootCmd.AddCommand(newEstimateCmd(v))
	rootCmd.AddCommand(newClearCmd(v))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
