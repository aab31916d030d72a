package errors

import (
	"encoding/json"
	"fmt"
)

// RejectCode is the one-byte reject code reported to peers.
type RejectCode uint8

const (
	RejectMalformed       RejectCode = 0x01
	RejectInvalid         RejectCode = 0x10
	RejectObsolete        RejectCode = 0x11
	RejectDuplicate       RejectCode = 0x12
	RejectNonstandard     RejectCode = 0x40
	RejectDust            RejectCode = 0x41
	RejectInsufficientFee RejectCode = 0x42
	RejectCheckpoint      RejectCode = 0x43
)

func (c RejectCode) String() string {
	switch c {
	case RejectMalformed:
		return "malformed"
	case RejectInvalid:
		return "invalid"
	case RejectObsolete:
		return "obsolete"
	case RejectDuplicate:
		return "duplicate"
	case RejectNonstandard:
		return "nonstandard"
	case RejectDust:
		return "dust"
	case RejectInsufficientFee:
		return "insufficientfee"
	case RejectCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(c))
	}
}

// RejectErrData describes why a block or transaction was rejected and how much
// the offending peer should be penalized for it.
type RejectErrData struct {
	DoS                int        `json:"dos"`
	RejectCode         RejectCode `json:"rejectCode"`
	Reason             string     `json:"reason"`
	CorruptionPossible bool       `json:"corruptionPossible"`
}

func (e *RejectErrData) Error() string {
	return fmt.Sprintf("%s (code %s, dos %d)", e.Reason, e.RejectCode, e.DoS)
}

func (e *RejectErrData) GetData(key string) interface{} {
	switch key {
	case "dos":
		return e.DoS
	case "rejectCode":
		return e.RejectCode
	case "reason":
		return e.Reason
	case "corruptionPossible":
		return e.CorruptionPossible
	}

	return nil
}

func (e *RejectErrData) SetData(key string, value interface{}) {
	switch key {
	case "dos":
		if v, ok := value.(int); ok {
			e.DoS = v
		}
	case "rejectCode":
		if v, ok := value.(RejectCode); ok {
			e.RejectCode = v
		}
	case "reason":
		if v, ok := value.(string); ok {
			e.Reason = v
		}
	case "corruptionPossible":
		if v, ok := value.(bool); ok {
			e.CorruptionPossible = v
		}
	}
}

func (e *RejectErrData) EncodeErrorData() []byte {
	data, _ := json.Marshal(e)
	return data
}

// ScriptErrData identifies the failing input of a script verification failure.
type ScriptErrData struct {
	InputIndex int    `json:"inputIndex"`
	ScriptErr  string `json:"scriptErr"`
}

func (e *ScriptErrData) Error() string {
	return fmt.Sprintf("input %d: %s", e.InputIndex, e.ScriptErr)
}

func (e *ScriptErrData) GetData(key string) interface{} {
	switch key {
	case "inputIndex":
		return e.InputIndex
	case "scriptErr":
		return e.ScriptErr
	}

	return nil
}

func (e *ScriptErrData) SetData(key string, value interface{}) {
	switch key {
	case "inputIndex":
		if v, ok := value.(int); ok {
			e.InputIndex = v
		}
	case "scriptErr":
		if v, ok := value.(string); ok {
			e.ScriptErr = v
		}
	}
}

func (e *ScriptErrData) EncodeErrorData() []byte {
	data, _ := json.Marshal(e)
	return data
}

func newReject(code ERR, dos int, rejectCode RejectCode, reason string, debug string, params ...interface{}) *Error {
	message := reason
	if debug != "" {
		message = reason + ", " + debug
	}

	e := New(code, message, params...)
	e.data = &RejectErrData{DoS: dos, RejectCode: rejectCode, Reason: reason}

	return e
}

// NewBlockInvalidError returns a block rejection carrying a misbehavior weight and reject code.
func NewBlockInvalidError(dos int, rejectCode RejectCode, reason string, debug string, params ...interface{}) error {
	return newReject(ERR_BLOCK_INVALID, dos, rejectCode, reason, debug, params...)
}

// NewBlockMutatedError is a block rejection that may stem from corrupted data
// rather than an invalid block, so the hash must not be marked permanently failed.
func NewBlockMutatedError(dos int, reason string, debug string, params ...interface{}) error {
	e := newReject(ERR_BLOCK_INVALID, dos, RejectInvalid, reason, debug, params...)
	e.data.(*RejectErrData).CorruptionPossible = true

	return e
}

// NewBlockTimeFutureError rejects a block timestamped too far ahead of the local clock. The
// block may become valid later, so it is not marked failed either.
func NewBlockTimeFutureError(reason string, debug string, params ...interface{}) error {
	e := newReject(ERR_BLOCK_INVALID, 0, RejectInvalid, reason, debug, params...)
	e.data.(*RejectErrData).CorruptionPossible = true

	return e
}

func NewTxInvalidError(dos int, rejectCode RejectCode, reason string, debug string, params ...interface{}) error {
	return newReject(ERR_TX_INVALID, dos, rejectCode, reason, debug, params...)
}

func NewTxDoubleSpendError(reason string, debug string, params ...interface{}) error {
	return newReject(ERR_TX_INVALID_DOUBLE_SPEND, 0, RejectDuplicate, reason, debug, params...)
}

func NewTxNonFinalError(dos int, reason string, debug string, params ...interface{}) error {
	return newReject(ERR_TX_NON_FINAL, dos, RejectNonstandard, reason, debug, params...)
}

func NewTxPolicyError(rejectCode RejectCode, reason string, debug string, params ...interface{}) error {
	return newReject(ERR_TX_POLICY, 0, rejectCode, reason, debug, params...)
}

func NewTxInsufficientFeeError(reason string, debug string, params ...interface{}) error {
	return newReject(ERR_TX_INSUFFICIENT_FEE, 0, RejectInsufficientFee, reason, debug, params...)
}

func NewTxCoinbaseImmatureError(reason string, debug string, params ...interface{}) error {
	return newReject(ERR_TX_COINBASE_IMMATURE, 0, RejectInvalid, reason, debug, params...)
}

// NewTxMissingInputsError is returned when inputs are unknown; it is not a rejection.
func NewTxMissingInputsError(message string, params ...interface{}) error {
	return New(ERR_TX_MISSING_INPUTS, message, params...)
}

func NewContractInvalidError(dos int, reason string, debug string, params ...interface{}) error {
	return newReject(ERR_CONTRACT_INVALID, dos, RejectInvalid, reason, debug, params...)
}

func NewContractGasError(dos int, rejectCode RejectCode, reason string, debug string, params ...interface{}) error {
	return newReject(ERR_CONTRACT_GAS, dos, rejectCode, reason, debug, params...)
}

func NewContractStateRootError(reason string, debug string, params ...interface{}) error {
	return newReject(ERR_CONTRACT_STATE_ROOT, 100, RejectInvalid, reason, debug, params...)
}

// NewScriptVerifyError reports a failing input script with its subcode.
func NewScriptVerifyError(dos int, inputIndex int, scriptErr string, message string, params ...interface{}) error {
	e := New(ERR_SCRIPT_VERIFY, message, params...)
	e.data = &ScriptErrData{InputIndex: inputIndex, ScriptErr: scriptErr}

	reason := "mandatory-script-verify-flag-failed (" + scriptErr + ")"
	rejectCode := RejectInvalid

	if dos == 0 {
		reason = "non-mandatory-script-verify-flag (" + scriptErr + ")"
		rejectCode = RejectNonstandard
	}

	return New(ERR_TX_INVALID, reason, e).
		WithData(&RejectErrData{DoS: dos, RejectCode: rejectCode, Reason: reason})
}

// GetReject returns the reject data attached anywhere in err's chain.
func GetReject(err error) (*RejectErrData, bool) {
	var data *RejectErrData
	if AsData(err, &data) {
		return data, true
	}

	return nil, false
}

// GetScriptError returns the failing input data attached anywhere in err's chain.
func GetScriptError(err error) (*ScriptErrData, bool) {
	var data *ScriptErrData
	if AsData(err, &data) {
		return data, true
	}

	return nil, false
}
