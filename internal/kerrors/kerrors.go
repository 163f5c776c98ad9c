// Package kerrors holds the five error kinds the core's failure model is
// built from. Recoverable conditions are returned as one of these; the
// page-fault handler converts them to process termination, everything else
// escalates to panic. See spec.md §7.
package kerrors

import "errors"

// Sentinel kinds. Use errors.Is against these, not direct equality, since
// call sites wrap them with Op via New.
var (
	// ErrOutOfMemory is frame or metadata allocation failure.
	ErrOutOfMemory = errors.New("kerrors: out of memory")
	// ErrNoSwap is swap pressure with no swap device configured.
	ErrNoSwap = errors.New("kerrors: no swap device")
	// ErrInvalidUserPointer is a user address that is not mapped and not a
	// legitimate stack growth or fault-resolvable reference.
	ErrInvalidUserPointer = errors.New("kerrors: invalid user pointer")
	// ErrIO is a block device I/O failure. Treated as fatal; not modeled in
	// depth since the simulated device does not inject I/O errors.
	ErrIO = errors.New("kerrors: device I/O error")
	// ErrPolicyViolation indicates a caller bug: double-map, eviction with
	// no candidate, and similar invariant breaks.
	ErrPolicyViolation = errors.New("kerrors: policy violation")
)

// Kinded wraps one of the sentinel kinds with the failing operation and an
// optional cause, mirroring the teacher's StorageError (Op/Err/Unwrap).
type Kinded struct {
	Op   string
	Kind error
	Err  error
}

func (e *Kinded) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Kind.Error()
}

func (e *Kinded) Unwrap() error { return e.Kind }

// New builds a Kinded error for op, attributing it to kind and optionally
// wrapping cause.
func New(op string, kind error, cause error) *Kinded {
	return &Kinded{Op: op, Kind: kind, Err: cause}
}
