package ratchet

import "github.com/pkg/errors"

// Failure kinds. Returned errors wrap exactly one of these; match with
// errors.Is.
var (
	// ErrValidation reports a missing or empty required input or key.
	ErrValidation = errors.New("ratchet: validation failed")
	// ErrAuthentication reports a signature that does not verify. Treat it
	// as possible tampering.
	ErrAuthentication = errors.New("ratchet: authentication failed")
	// ErrPrimitive reports that a crypto primitive rejected its input.
	ErrPrimitive = errors.New("ratchet: primitive failure")
	// ErrDirectionConflict reports a chain used opposite to its lock.
	ErrDirectionConflict = errors.New("ratchet: direction conflict")
	// ErrUnrecoverableLink reports a message whose key is gone or out of range.
	ErrUnrecoverableLink = errors.New("ratchet: unrecoverable link")
	// ErrStateImport reports malformed or incompatible persisted state.
	ErrStateImport = errors.New("ratchet: state import failed")
)

func primitiveErr(err error, op string) error {
	return errors.Wrapf(ErrPrimitive, "%s: %v", op, err)
}
