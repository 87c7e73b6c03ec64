package firewall

import "fmt"

// BuildError indicates a failure while creating or loading a staged set.
// The live firewall state is untouched when a BuildError is returned.
type BuildError struct {
	Set string
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building set %s: %v", e.Set, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// SyncError indicates a failure during rule synchronization. Op names the
// step that failed. RolledBack reports whether the rollback to a clean
// state itself succeeded.
type SyncError struct {
	Op         string
	Err        error
	RolledBack bool
}

func (e *SyncError) Error() string {
	if e.RolledBack {
		return fmt.Sprintf("sync %s: %v (rolled back)", e.Op, e.Err)
	}
	return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
