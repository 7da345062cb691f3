package proxywasm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a HostError per the runner's error taxonomy. Kinds are not
// Go error types themselves -- they're a closed, loggable label attached to
// an error so operators and tests can switch on "what category of failure
// was this" without string matching.
type Kind string

const (
	KindModuleLoadFailure     Kind = "MODULE_LOAD_FAILURE"
	KindInstanceTrap          Kind = "INSTANCE_TRAP"
	KindHostAbort             Kind = "HOST_ABORT"
	KindPropertyViolation     Kind = "PROPERTY_VIOLATION"
	KindMemoryOutOfBounds     Kind = "MEMORY_OUT_OF_BOUNDS"
	KindOutboundFetchTimeout  Kind = "OUTBOUND_FETCH_TIMEOUT"
	KindOutboundFetchNetwork  Kind = "OUTBOUND_FETCH_NETWORK"
	KindDownstreamFetchFailed Kind = "DOWNSTREAM_FETCH_FAILURE"
	KindInitStepFailure       Kind = "INIT_STEP_FAILURE"
	KindConfigParseFailure    Kind = "CONFIG_PARSE_FAILURE"
)

// HostError wraps an underlying cause with the Kind that governs how the
// runner is supposed to react to it (fatal vs. logged-and-tolerated, per
// spec §7's propagation policy).
type HostError struct {
	Kind  Kind
	cause error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.cause)
}

func (e *HostError) Unwrap() error { return e.cause }

// NewHostError wraps cause with a stack trace via pkg/errors so fatal kinds
// (module load, instance trap) carry enough context to diagnose without a
// debugger attached to the runner process.
func NewHostError(kind Kind, cause error) *HostError {
	return &HostError{Kind: kind, cause: errors.WithStack(cause)}
}

// Fatal reports whether this Kind must abort the call to the caller, per the
// propagation policy in spec §7. Every other Kind is logged and tolerated.
func (k Kind) Fatal() bool {
	switch k {
	case KindModuleLoadFailure, KindInstanceTrap, KindHostAbort:
		return true
	default:
		return false
	}
}
