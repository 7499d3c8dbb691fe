//go:build linux || darwin || freebsd

package quota

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskEstimator reports the filesystem holding Path: Quota is the space
// available to an unprivileged writer plus what is already used there.
type DiskEstimator struct {
	Path string
}

// Estimate implements Estimator.
func (d DiskEstimator) Estimate(_ context.Context) (Estimate, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(d.Path, &st); err != nil {
		return Estimate{}, fmt.Errorf("statfs %s: %w", d.Path, err)
	}
	bsize := int64(st.Bsize)
	total := int64(st.Blocks) * bsize
	free := int64(st.Bfree) * bsize
	avail := int64(st.Bavail) * bsize

	used := total - free
	return Estimate{Quota: used + avail, Usage: used}, nil
}
