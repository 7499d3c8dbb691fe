// Package recordstore is the quota-enforcing record database used by fill runs.
package recordstore

import "errors"

var (
	// ErrQuotaExceeded indicates a put would take usage past the quota.
	ErrQuotaExceeded error = quotaError{}

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("record store closed")
)

type quotaError struct{}

func (quotaError) Error() string     { return "storage quota exceeded" }
func (quotaError) ErrorType() string { return "quota" }
