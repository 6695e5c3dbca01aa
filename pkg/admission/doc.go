// Package admission defines the vocabulary shared by every admission-control
// component: the error taxonomy returned by validation paths, the single-use
// Reservation handle returned by reserve-style operations, and the Clock used
// to make time-dependent behavior testable.
//
// # Error Taxonomy
//
// Every rejection is an *Error whose Kind is one of:
//
//   - KindMalformedInput: amount or batch data could not be parsed (not retryable)
//   - KindLimitExceeded: a quota or rate window is exhausted (retryable)
//   - KindNotAllowed: the recipient is excluded by allow/block policy (not retryable)
//   - KindInternal: configuration provider or sink failure
//
// Callers match kinds with errors.Is against the package sentinels:
//
//	if errors.Is(err, admission.ErrLimitExceeded) {
//	    var ae *admission.Error
//	    errors.As(err, &ae)
//	    retryIn := ae.RetryAfter
//	}
//
// # Reservations
//
// A Reservation is a charge that has already been committed. Releasing it
// undoes exactly that charge once; further calls are no-ops.
package admission
