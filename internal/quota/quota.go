// Package quota reports how much storage a fill run may consume.
package quota

import (
	"context"
	"errors"
)

// ErrUnsupported indicates the estimator cannot report a quota for its target.
var ErrUnsupported = errors.New("storage quota estimate not supported")

// Estimate is a point-in-time view of capacity and consumption, in bytes.
type Estimate struct {
	Quota int64 `json:"quota"`
	Usage int64 `json:"usage"`
}

// Remaining returns Quota minus Usage. It goes negative when usage
// overshoots the quota.
func (e Estimate) Remaining() int64 {
	return e.Quota - e.Usage
}

// Estimator returns the current storage estimate.
type Estimator interface {
	Estimate(ctx context.Context) (Estimate, error)
}

// EstimatorFunc adapts a function to the Estimator interface.
type EstimatorFunc func(ctx context.Context) (Estimate, error)

// Estimate calls f(ctx).
func (f EstimatorFunc) Estimate(ctx context.Context) (Estimate, error) {
	return f(ctx)
}

// Unsupported is an Estimator that always fails with ErrUnsupported.
var Unsupported Estimator = EstimatorFunc(func(context.Context) (Estimate, error) {
	return Estimate{}, ErrUnsupported
})

// Fixed reports a constant capacity with usage supplied by Used.
type Fixed struct {
	Capacity int64
	Used     func() int64
}

// Estimate implements Estimator.
func (f Fixed) Estimate(context.Context) (Estimate, error) {
	if f.Capacity <= 0 {
		return Estimate{}, ErrUnsupported
	}
	var used int64
	if f.Used != nil {
		used = f.Used()
	}
	return Estimate{Quota: f.Capacity, Usage: used}, nil
}
