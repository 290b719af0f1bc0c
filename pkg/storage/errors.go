package storage

import "errors"

// Error taxonomy shared by both adapters. Callers branch with errors.Is;
// the concrete backends wrap their driver errors around these sentinels.
var (
	// ErrConfigurationMissing means the backend lacks required connection
	// info. Treated as "backend unavailable", never fatal.
	ErrConfigurationMissing = errors.New("storage: configuration missing")

	// ErrUnavailable means a transient network or service failure. Retried
	// only by the next scheduled sync tick or the next explicit action.
	ErrUnavailable = errors.New("storage: backend unavailable")

	// ErrNotFound means a lookup target is absent. Deletes treat it as
	// success.
	ErrNotFound = errors.New("storage: not found")

	// ErrValidation means a stored record is malformed. Loaders skip the
	// offending record and continue.
	ErrValidation = errors.New("storage: record validation failed")
)

// IsRecoverable reports whether err is a condition the sync loop may simply
// log and retry later rather than surface.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrConfigurationMissing)
}
