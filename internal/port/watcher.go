package port

// DirWatcher watches a single directory for its own deletion
type DirWatcher interface {
	// Watch arms the watch. onDelete is called at most once per armed watch,
	// on its own goroutine.
	Watch(dir string, onDelete func()) error

	// Stop disarms the current watch
	Stop() error
}
