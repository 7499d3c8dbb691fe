//go:build !linux && !darwin && !freebsd

package quota

import "context"

// DiskEstimator is unavailable on this platform.
type DiskEstimator struct {
	Path string
}

// Estimate always returns ErrUnsupported.
func (DiskEstimator) Estimate(context.Context) (Estimate, error) {
	return Estimate{}, ErrUnsupported
}
