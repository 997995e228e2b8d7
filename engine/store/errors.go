package store

import "errors"

// ErrDuplicateRun is returned when a run id is saved twice.
var ErrDuplicateRun = errors.New("run already saved")
