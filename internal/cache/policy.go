package cache

import "time"

// Policy is an immutable cache configuration value.
type Policy struct {
	// TTL is the default time-to-live applied when a put does not override it.
	TTL time.Duration
	// MaxSize bounds the number of entries a memory tier may hold.
	MaxSize int
}

// Named presets. Memory tiers usually run Default while the matching disk
// namespace runs LongLived: the memory tier is a shorter-lived front for the
// same logical entity.
var (
	PolicyDefault    = Policy{TTL: 5 * time.Minute, MaxSize: 100}
	PolicyShortLived = Policy{TTL: time.Minute, MaxSize: 50}
	PolicyLongLived  = Policy{TTL: 30 * time.Minute, MaxSize: 200}
	PolicySession    = Policy{TTL: 24 * time.Hour, MaxSize: 50}
)
