// Package cli provides helpers for building quotafill commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/gezibash/quotafill/internal/app"
	"github.com/gezibash/quotafill/internal/config"
	"github.com/gezibash/quotafill/internal/storage"
)

// CommandConfig configures a CLI command.
type CommandConfig struct {
	// Name identifies this command in logs and names its log file.
	Name string

	// Viper holds the command's configuration. The "config" key names an
	// explicit config file and "output" selects the output format.
	Viper *viper.Viper

	// Timeout for the command operation. Zero means no timeout.
	Timeout time.Duration

	// LogToFile sends logs to {data_dir}/log/{name}.log unless
	// observability.log_file is set. Used by commands that own the terminal.
	LogToFile bool

	// Stdout receives rendered output; Stderr receives logs. Both default
	// to the process streams.
	Stdout io.Writer
	Stderr io.Writer

	// Run is the command's business logic.
	Run func(ctx context.Context, a *app.App, out *Output) error
}

// RunCommand executes a CLI command with standard infrastructure setup:
// config load, observability, timeout, output, run, shutdown.
func RunCommand(ctx context.Context, cfg CommandConfig) (err error) {
	if cfg.Name == "" {
		return errors.New("command name required")
	}
	if cfg.Viper == nil {
		return errors.New("viper required")
	}
	if cfg.Run == nil {
		return errors.New("run function required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	conf, err := config.Load(cfg.Viper, cfg.Viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.LogToFile && conf.Observability.LogFile == "" {
		conf.Observability.LogFile = filepath.Join(storage.ExpandPath(conf.DataDir), "log", cfg.Name+".log")
	}

	a, err := app.New(ctx, conf, cfg.Stderr)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err = errors.Join(err, a.Close(shutdownCtx))
	}()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	out := NewOutput(ParseFormat(cfg.Viper.GetString("output")), cfg.Stdout)
	return cfg.Run(ctx, a, out)
}
