package model

import "errors"

// Sentinel errors for programmatic matching via errors.Is; dispatcher.go
// wraps these into a *ctlerrors.Error (with the right wire status) at the
// boundary, the way the teacher's cache package wraps into *CacheError.
var (
	ErrNotFound       = errors.New("config not found")
	ErrDuplicateName  = errors.New("name already exists")
	ErrActive         = errors.New("config is active")
	ErrHasIncoming    = errors.New("config has incoming dependency edges")
	ErrLabelWarmOnly  = errors.New("labels are always warm")
	ErrTargetLabeled  = errors.New("config is a labeled target")
	ErrNotLabel       = errors.New("config is not a label")
	ErrAlreadyLabel   = errors.New("target is already a label")
	ErrLabelDotInName = errors.New("label names may not contain '.'")
)
