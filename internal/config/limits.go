package config

import "time"

type Limits struct {
	MaxQueryDuration time.Duration
	MaxResultRows    int
	DefaultPageSize  int
	MaxPageSize      int
}

func DefaultLimits() Limits {
	return Limits{
		MaxQueryDuration: 5 * time.Second,
		MaxResultRows:    100000,
		DefaultPageSize:  50,
		MaxPageSize:      500,
	}
}

// PageSize clamps a requested page size; non-positive requests get the
// default.
func (l Limits) PageSize(requested int) int {
	if requested <= 0 {
		return l.DefaultPageSize
	}
	if requested > l.MaxPageSize {
		return l.MaxPageSize
	}
	return requested
}
