package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewCustomError(t *testing.T) {
	err := New(ERR_NOT_FOUND, "resource not found")
	require.NotNil(t, err)
	require.Equal(t, ERR_NOT_FOUND, err.Code())
	require.Equal(t, "resource not found", err.Message())

	secondErr := New(ERR_INVALID_ARGUMENT, "[ConnectBlock][%s] failed to read undo", "_test_string_", err)
	thirdErr := New(ERR_TX_INVALID_DOUBLE_SPEND, "[ConnectBlock][%s] failed", "_test_string_", secondErr)
	anotherErr := New(ERR_TX_INVALID_DOUBLE_SPEND, "another error")
	fourthErr := New(ERR_SERVICE_ERROR, "older error", thirdErr)
	fifthErr := New(ERR_BLOCK_INVALID, "invalid tx double spend error", fourthErr)

	require.Equal(t, "[ConnectBlock][_test_string_] failed to read undo", secondErr.Message())

	require.True(t, anotherErr.Is(thirdErr))
	require.True(t, fourthErr.Is(ErrTxInvalidDoubleSpend))
	require.True(t, fourthErr.Is(err))
	require.True(t, fifthErr.Is(thirdErr))
	require.True(t, fifthErr.Is(err))

	require.False(t, anotherErr.Is(fourthErr))
	require.False(t, fifthErr.Is(ErrBlockNotFound))
}

func Test_FmtWrappedError(t *testing.T) {
	err := New(ERR_NOT_FOUND, "resource not found")
	fmtError := fmt.Errorf("error: %w", err)

	secondErr := New(ERR_INVALID_ARGUMENT, "failed", fmtError)
	require.False(t, secondErr.Is(err))
	require.True(t, Is(fmtError, ErrNotFound))

	var target *Error
	require.True(t, As(secondErr, &target))
	require.Equal(t, ERR_INVALID_ARGUMENT, target.Code())
}

func Test_InvalidCode(t *testing.T) {
	err := New(ERR(9999), "bogus")
	assert.Equal(t, "invalid error code", err.Message())
}

func Test_RejectData(t *testing.T) {
	err := NewBlockInvalidError(100, RejectInvalid, "bad-txnmrklroot", "hashMerkleRoot mismatch")

	r, ok := GetReject(err)
	require.True(t, ok)
	assert.Equal(t, 100, r.DoS)
	assert.Equal(t, RejectInvalid, r.RejectCode)
	assert.Equal(t, "bad-txnmrklroot", r.Reason)
	assert.False(t, r.CorruptionPossible)
	assert.True(t, Is(err, ErrBlockInvalid))

	wrapped := New(ERR_PROCESSING, "connect failed", err)
	r, ok = GetReject(wrapped)
	require.True(t, ok)
	assert.Equal(t, "bad-txnmrklroot", r.Reason)
	assert.Equal(t, 100, DoS(wrapped))

	mutated := NewBlockMutatedError(100, "bad-txns-duplicate", "duplicate transaction")
	assert.True(t, IsCorruptionPossible(mutated))
}

func Test_ScriptErrorData(t *testing.T) {
	err := NewScriptVerifyError(100, 2, "ErrEvalFalse", "script failed")

	r, ok := GetReject(err)
	require.True(t, ok)
	assert.Equal(t, "mandatory-script-verify-flag-failed (ErrEvalFalse)", r.Reason)

	s, ok := GetScriptError(err)
	require.True(t, ok)
	assert.Equal(t, 2, s.InputIndex)
	assert.Equal(t, "ErrEvalFalse", s.ScriptErr)

	assert.True(t, Is(err, ErrScriptVerify))
	assert.True(t, Is(err, ErrTxInvalid))
}

func Test_Classify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeValid},
		{"block invalid", NewBlockInvalidError(50, RejectInvalid, "high-hash", ""), OutcomeInvalid},
		{"missing inputs", NewTxMissingInputsError("missing"), OutcomeInvalid},
		{"state root", NewContractStateRootError("bad-contract-state-root", ""), OutcomeInvalid},
		{"storage", NewStorageError("disk full"), OutcomeError},
		{"plain", fmt.Errorf("boom"), OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func Test_IsContextError(t *testing.T) {
	assert.True(t, IsContextError(context.Canceled))
	assert.True(t, IsContextError(NewContextCanceledError("stop")))
	assert.False(t, IsContextError(NewStorageError("x")))
}

func Test_ErrDataRoundTrip(t *testing.T) {
	e := New(ERR_PROCESSING, "x")
	e.SetData("height", 12)
	assert.Equal(t, 12, e.GetData("height"))

	r := &RejectErrData{DoS: 10, RejectCode: RejectNonstandard, Reason: "non-final"}
	data, err := GetErrorData(ERR_TX_NON_FINAL, r.EncodeErrorData())
	require.NoError(t, err)
	assert.Equal(t, r, data)
}

func Test_ErrorString(t *testing.T) {
	inner := New(ERR_NOT_FOUND, "coin missing")
	err := New(ERR_PROCESSING, "connect %d", 7, inner)

	assert.Equal(t, "PROCESSING (3): connect 7 -> NOT_FOUND (2): coin missing", err.Error())
	assert.Equal(t, "<nil>", (*Error)(nil).Error())
}

func Test_JoinKeepsChain(t *testing.T) {
	assert.NoError(t, Join(nil, nil))

	err := Join(nil, NewStorageError("flush"), context.Canceled)
	assert.True(t, Is(err, ErrStorageError))
	assert.True(t, Is(err, context.Canceled))
}
