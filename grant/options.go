package grant

// Options is the per-request acquisition policy, merged with configuration
// into an AuthContext by the flow handling the request. Cancellation is
// carried by the context.Context passed to the acquisition call.
type Options struct {
	// CachingAllowed permits reading a previously cached grant. Writes of
	// freshly obtained grants are governed by configuration, not by this
	// flag, so a forced acquisition still primes the cache.
	CachingAllowed bool

	// RefreshAllowed permits a silent refresh-token exchange before a full
	// grant acquisition.
	RefreshAllowed bool

	// Scope requests a specific scope, overriding the configured one.
	Scope []string

	// ActorID identifies the requesting actor when it differs from the
	// client identity.
	ActorID string

	// Force bypasses both cache and refresh, always performing the full
	// exchange.
	Force bool

	// Silent fails rather than falling back to user interaction.
	Silent bool
}

// DefaultOptions allows caching and refresh, with no scope override.
func DefaultOptions() Options {
	return Options{
		CachingAllowed: true,
		RefreshAllowed: true,
	}
}

// Effective returns the options with Force applied: a forced request reads
// no cache and attempts no refresh.
func (o Options) Effective() Options {
	if o.Force {
		o.CachingAllowed = false
		o.RefreshAllowed = false
	}
	return o
}
