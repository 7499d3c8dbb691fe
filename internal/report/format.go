// Package report renders fill progress and quota metrics.
package report

import (
	"fmt"

	"github.com/gezibash/quotafill/internal/record"
)

var units = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatBytes renders n with 1024-based units and two decimals:
// 0 is "0 Bytes", 1024 is "1.00 KB". Values past TB stay in TB.
func FormatBytes(n int64) string {
	if n == 0 {
		return "0 Bytes"
	}
	sign := ""
	v := float64(n)
	if v < 0 {
		sign = "-"
		v = -v
	}
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%s%.2f %s", sign, v, units[i])
}

// FormatMiB renders records chunks of record.ChunkSize as a MiB count
// with two decimals.
func FormatMiB(records int64) string {
	return fmt.Sprintf("%.2f", float64(records*record.ChunkSize)/float64(1<<20))
}

// StoredText is the progress line shown after each successful write.
func StoredText(records int64) string {
	return "Stored " + FormatMiB(records) + " MB"
}

// QuotaReachedText is appended to the progress line when a write fails.
func QuotaReachedText(records int64) string {
	return "\nQuota reached! Stored approximately " + FormatMiB(records) + " MB"
}
