package cache

// State is the lifecycle stage of a cached resource. States advance
// Requested, Downloading, Decoding, Building, Uploading, Resident, Evicted.
//
// Any non-terminal state may transition to Cancelled. Evicted and Cancelled
// are terminal; re-requesting such a key creates a fresh entry.
type State uint8

const (
	StateRequested State = iota
	StateDownloading
	StateDecoding
	StateBuilding
	StateUploading
	StateResident
	StateEvicted
	StateCancelled
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateEvicted || s == StateCancelled
}

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateDownloading:
		return "downloading"
	case StateDecoding:
		return "decoding"
	case StateBuilding:
		return "building"
	case StateUploading:
		return "uploading"
	case StateResident:
		return "resident"
	case StateEvicted:
		return "evicted"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// canTransition reports whether from → to is a legal lifecycle move.
// Forward progress through the pipeline stages, Resident from any working
// state, Cancelled from any non-terminal state, Evicted only from Resident
// (the cache itself evicts).
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StateCancelled:
		return true
	case StateEvicted:
		return from == StateResident
	case StateResident:
		return from != StateResident
	default:
		return to > from && to < StateResident
	}
}
