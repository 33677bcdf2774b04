package databank

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; they run on job goroutines,
// sometimes under an item lock. Wrap with hooks/async for anything heavier.
type Hooks interface {
	// A job returned an error or panicked. The item keeps its previous tier.
	JobFailed(key string, kind JobKind, err error)

	// A queued job was dropped because an identical one was already pending.
	JobCollapsed(key string, kind JobKind)

	// Hot storage failed; the bank fell back to the source.
	// op ∈ {"read", "write", "decode", "encode", "delete", "peek"}.
	HotStorageError(key, op string, err error)

	// A serialized copy was ignored because its stamp no longer matches the
	// source's modification time.
	StaleHotCopy(key string)

	// A tier crossed one of its advisory ceilings after an add.
	TierOverLimit(t Tier, u Usage)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) JobFailed(string, JobKind, error)       {}
func (NopHooks) JobCollapsed(string, JobKind)           {}
func (NopHooks) HotStorageError(string, string, error)  {}
func (NopHooks) StaleHotCopy(string)                    {}
func (NopHooks) TierOverLimit(Tier, Usage)              {}
