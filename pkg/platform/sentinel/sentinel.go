package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: no record for the key
//   - ErrAlreadyUsed: a unique key is already taken (duplicate registration)
//   - ErrConflict: concurrent modification detected
//   - ErrInvalidState: record in the wrong state for the requested operation
//   - ErrUnavailable: backend or remote service temporarily unavailable
//
// Validation failures belong in pkg/domain-errors, not here.
var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyUsed  = errors.New("already used")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
