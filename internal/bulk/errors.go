package bulk

import "errors"

// Sentinel errors returned by the store and scheduler. Handlers map these
// to HTTP statuses with errors.Is, so wrap rather than replace them.
var (
	// ErrInvalidInput covers bad URLs or missing fields; never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrQuotaExceeded means the user already has the maximum number of
	// active jobs. Transient; the caller may retry later.
	ErrQuotaExceeded = errors.New("active job quota exceeded")
	// ErrCapacityExceeded means the global concurrent-job cap is reached.
	// The job remains pending and start may be retried.
	ErrCapacityExceeded = errors.New("scheduler capacity exceeded")
	// ErrNotFound covers absent jobs and jobs owned by another user.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidState means the operation is not valid for the job's
	// current lifecycle state.
	ErrInvalidState = errors.New("invalid job state")
)
