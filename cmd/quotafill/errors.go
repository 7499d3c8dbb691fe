package main

import (
	"errors"

	"github.com/gezibash/quotafill/internal/cli"
	"github.com/gezibash/quotafill/internal/quota"
	"github.com/gezibash/quotafill/internal/storage"
)

// renderFailure writes err in the selected output format, tagged with a
// machine-readable code, and returns err. fallback is the code used when
// the error is not a known kind.
func renderFailure(out *cli.Output, op, backend, fallback string, err error) error {
	e := out.Error(op, err).With("backend", backend)

	var cfgErr *storage.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		e.WithCode("INVALID_CONFIG").With("key", cfgErr.Key())
	case errors.Is(err, quota.ErrUnsupported):
		e.WithCode("UNSUPPORTED")
	case fallback != "":
		e.WithCode(fallback)
	}
	_ = e.Render()
	return err
}
