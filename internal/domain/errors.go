package domain

import "errors"

var (
	// ErrPreconditionFailed is returned before any network call when a local check fails.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrAlreadyInProgress rejects a second command or flow while one is in flight.
	ErrAlreadyInProgress = errors.New("already in progress")
	// ErrNotConnected means the device is offline or in the wrong state for the command.
	ErrNotConnected = errors.New("charge point not connected")
	// ErrDeviceRejected means the remote side answered the command with a refusal.
	ErrDeviceRejected = errors.New("command rejected by device")
	// ErrTransient covers network failures, timeouts, 5xx answers and open circuits.
	ErrTransient = errors.New("transient failure")
	// ErrVerificationAmbiguous marks a payment verify whose outcome is unknown.
	ErrVerificationAmbiguous = errors.New("payment verification ambiguous")
	// ErrSignatureRejected is an explicit refusal of the checkout signature.
	ErrSignatureRejected = errors.New("payment signature rejected")
	ErrNotFound          = errors.New("not found")
	// ErrUnauthorized means the backend refused the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrorKind is a stable machine-readable code for an error.
type ErrorKind string

const (
	KindPreconditionFailed    ErrorKind = "precondition_failed"
	KindAlreadyInProgress     ErrorKind = "already_in_progress"
	KindNotConnected          ErrorKind = "not_connected"
	KindDeviceRejected        ErrorKind = "device_rejected"
	KindTransient             ErrorKind = "transient"
	KindVerificationAmbiguous ErrorKind = "verification_ambiguous"
	KindSignatureRejected     ErrorKind = "signature_rejected"
	KindNotFound              ErrorKind = "not_found"
	KindUnauthorized          ErrorKind = "unauthorized"
	KindInternal              ErrorKind = "internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrPreconditionFailed, KindPreconditionFailed},
	{ErrAlreadyInProgress, KindAlreadyInProgress},
	{ErrNotConnected, KindNotConnected},
	{ErrDeviceRejected, KindDeviceRejected},
	{ErrVerificationAmbiguous, KindVerificationAmbiguous},
	{ErrSignatureRejected, KindSignatureRejected},
	{ErrNotFound, KindNotFound},
	{ErrUnauthorized, KindUnauthorized},
	{ErrTransient, KindTransient},
}

// KindOf maps err to its ErrorKind. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
