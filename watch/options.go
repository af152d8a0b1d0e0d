package watch

// RegisterOptions configures one registration (§4.7 Registration
// lifecycle).
type RegisterOptions struct {
	// Kinds restricts which event kinds this registration receives;
	// nil or empty means all kinds.
	Kinds []Kind

	// Recursive walks the subtree once at registration time and
	// attaches watchers to every directory found, then keeps attaching
	// watchers to newly created subdirectories as CREATE events arrive.
	Recursive bool

	// MaxEventBatchSize closes the current batch once reached
	// (default 50).
	MaxEventBatchSize int

	// EventBatchTimeoutMs closes the current batch this many
	// milliseconds after its first event, whichever comes first
	// (default 100).
	EventBatchTimeoutMs int
}

func (o RegisterOptions) withDefaults() RegisterOptions {
	if o.MaxEventBatchSize <= 0 {
		o.MaxEventBatchSize = 50
	}

	if o.EventBatchTimeoutMs <= 0 {
		o.EventBatchTimeoutMs = 100
	}

	return o
}

func (o RegisterOptions) allows(k Kind) bool {
	if len(o.Kinds) == 0 {
		return true
	}

	for _, allowed := range o.Kinds {
		if allowed == k {
			return true
		}
	}

	return false
}
