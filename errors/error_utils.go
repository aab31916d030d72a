package errors

import (
	"context"
	"errors"
)

// Outcome is the tri-state result of validating a block or transaction.
type Outcome int

const (
	// OutcomeValid means the object passed validation.
	OutcomeValid Outcome = iota
	// OutcomeInvalid means the object violates a rule; it is rejected and cached as such.
	OutcomeInvalid
	// OutcomeError means a local fault occurred; the object's validity is unknown.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "error"
	}
}

// Classify maps an error returned by validation to its outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeValid
	}

	if IsInvalid(err) {
		return OutcomeInvalid
	}

	return OutcomeError
}

// IsInvalid reports whether err is a consensus or policy rejection rather than a local fault.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var tErr *Error
	if !As(err, &tErr) {
		return false
	}

	switch tErr.Code() {
	case ERR_BLOCK_INVALID,
		ERR_BLOCK_PARENT_INVALID,
		ERR_TX_INVALID,
		ERR_TX_INVALID_DOUBLE_SPEND,
		ERR_TX_MISSING_INPUTS,
		ERR_TX_NON_FINAL,
		ERR_TX_POLICY,
		ERR_TX_INSUFFICIENT_FEE,
		ERR_TX_COINBASE_IMMATURE,
		ERR_TX_ALREADY_EXISTS,
		ERR_SCRIPT_VERIFY,
		ERR_CONTRACT_INVALID,
		ERR_CONTRACT_GAS,
		ERR_CONTRACT_STATE_ROOT:
		return true
	}

	return false
}

// IsCorruptionPossible reports whether an invalid result may have been caused by corrupted data.
func IsCorruptionPossible(err error) bool {
	if r, ok := GetReject(err); ok {
		return r.CorruptionPossible
	}

	return false
}

// DoS returns the misbehavior weight carried by err, or 0.
func DoS(err error) int {
	if r, ok := GetReject(err); ok {
		return r.DoS
	}

	return 0
}

// IsContextError reports whether err stems from a canceled or expired context.
func IsContextError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var tErr *Error
	if As(err, &tErr) {
		return tErr.Code() == ERR_CONTEXT_CANCELED
	}

	return false
}
