package querycache

import "time"

const (
	// Infinite disables staleness (as a StaleTime) or eviction (as a GC TTL).
	Infinite time.Duration = -1

	defaultGCTime       = 5 * time.Minute
	defaultTierTTL      = 10 * time.Minute
	defaultGenSweep     = time.Hour
	defaultGenRetention = 30 * 24 * time.Hour
	defaultPageParamKey = "page"
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
