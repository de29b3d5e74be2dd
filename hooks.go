package querycache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The store calls them on hot paths, never while holding its lock.
type Hooks interface {
	// A Fetch joined an in-flight fetch instead of starting the producer.
	FetchDeduped(key string)

	// A subscriber callback panicked; other subscribers were still notified.
	ListenerPanic(key string, recovered any)

	// An unobserved entry was removed by its eviction timer.
	Evicted(key string)

	// A tier record was deleted on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	TierSelfHeal(storageKey, reason string)

	// The tier provider returned ok=false on Set (backpressure/eviction).
	TierSetRejected(storageKey string)

	// GenStore errors (snapshot or bump).
	GenSnapshotError(storageKey string, err error)
	GenBumpError(storageKey string, err error)

	// Both gen bump and delete failed while removing a key from the tier.
	ForgetOutage(key string, bumpErr, delErr error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchDeduped(string)               {}
func (NopHooks) ListenerPanic(string, any)         {}
func (NopHooks) Evicted(string)                    {}
func (NopHooks) TierSelfHeal(string, string)       {}
func (NopHooks) TierSetRejected(string)            {}
func (NopHooks) GenSnapshotError(string, error)    {}
func (NopHooks) GenBumpError(string, error)        {}
func (NopHooks) ForgetOutage(string, error, error) {}
