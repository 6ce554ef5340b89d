package domain

// EntryState is the download state of a single cache entry
type EntryState int

const (
	// StateEmpty means nothing is stored on disk yet
	StateEmpty EntryState = iota
	// StateExists means a partial file is on disk but nobody is filling it
	StateExists
	// StateFilling means the worker is appending to the partial file
	StateFilling
	// StateComplete means the final file is on disk
	StateComplete
)

// String returns the state name
func (s EntryState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateExists:
		return "exists"
	case StateFilling:
		return "filling"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// CacheStatus is the coarse status reported to listeners
type CacheStatus int

const (
	NotCached CacheStatus = iota
	PartiallyCached
	FullyCached
)

// String returns the status name
func (s CacheStatus) String() string {
	switch s {
	case PartiallyCached:
		return "partially_cached"
	case FullyCached:
		return "fully_cached"
	default:
		return "not_cached"
	}
}

// StatusOf converts an entry state into the status reported to listeners.
func StatusOf(state EntryState) CacheStatus {
	switch state {
	case StateExists, StateFilling:
		return PartiallyCached
	case StateComplete:
		return FullyCached
	default:
		return NotCached
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Files        int
	SizeBytes    int64
	MaxFiles     int
	MaxSizeBytes int64
	Queued       int
	CurrentPath  string
	WorkerActive bool
}
