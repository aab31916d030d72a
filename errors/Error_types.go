package errors

var (
	ErrUnknown               = New(ERR_UNKNOWN, "unknown error")
	ErrInvalidArgument       = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrNotFound              = New(ERR_NOT_FOUND, "not found")
	ErrProcessing            = New(ERR_PROCESSING, "error processing")
	ErrConfiguration         = New(ERR_CONFIGURATION, "configuration error")
	ErrContextCanceled       = New(ERR_CONTEXT_CANCELED, "context canceled")
	ErrError                 = New(ERR_ERROR, "generic error")
	ErrStateAborted          = New(ERR_STATE_ABORTED, "chainstate aborted")
	ErrBlockNotFound         = New(ERR_BLOCK_NOT_FOUND, "block not found")
	ErrBlockInvalid          = New(ERR_BLOCK_INVALID, "block invalid")
	ErrBlockExists           = New(ERR_BLOCK_EXISTS, "block exists")
	ErrBlockError            = New(ERR_BLOCK_ERROR, "block error")
	ErrBlockParentInvalid    = New(ERR_BLOCK_PARENT_INVALID, "block parent invalid")
	ErrBlockOrphan           = New(ERR_BLOCK_ORPHAN, "block parent unknown")
	ErrTxNotFound            = New(ERR_TX_NOT_FOUND, "tx not found")
	ErrTxInvalid             = New(ERR_TX_INVALID, "tx invalid")
	ErrTxInvalidDoubleSpend  = New(ERR_TX_INVALID_DOUBLE_SPEND, "tx invalid double spend")
	ErrTxAlreadyExists       = New(ERR_TX_ALREADY_EXISTS, "tx already exists")
	ErrTxMissingInputs       = New(ERR_TX_MISSING_INPUTS, "tx missing inputs")
	ErrTxNonFinal            = New(ERR_TX_NON_FINAL, "tx non final")
	ErrTxPolicy              = New(ERR_TX_POLICY, "tx policy")
	ErrTxInsufficientFee     = New(ERR_TX_INSUFFICIENT_FEE, "tx insufficient fee")
	ErrTxCoinbaseImmature    = New(ERR_TX_COINBASE_IMMATURE, "tx spends immature coinbase")
	ErrCoinbaseMissingHeight = New(ERR_COINBASE_MISSING_HEIGHT, "the coinbase signature script doesn't have the block height")
	ErrTxError               = New(ERR_TX_ERROR, "tx error")
	ErrScriptVerify          = New(ERR_SCRIPT_VERIFY, "script verification failed")
	ErrNoSuchCoin            = New(ERR_NO_SUCH_COIN, "no such coin")
	ErrSpent                 = New(ERR_SPENT, "coin already spent")
	ErrOverwrite             = New(ERR_OVERWRITE, "attempted overwrite of unspent coin")
	ErrContractInvalid       = New(ERR_CONTRACT_INVALID, "contract invalid")
	ErrContractGas           = New(ERR_CONTRACT_GAS, "contract gas")
	ErrContractStateRoot     = New(ERR_CONTRACT_STATE_ROOT, "contract state root mismatch")
	ErrContractExecution     = New(ERR_CONTRACT_EXECUTION, "contract execution failed")
	ErrServiceError          = New(ERR_SERVICE_ERROR, "service error")
	ErrServiceNotStarted     = New(ERR_SERVICE_NOT_STARTED, "service not started")
	ErrStorageError          = New(ERR_STORAGE_ERROR, "storage error")
	ErrStorageCorruption     = New(ERR_STORAGE_CORRUPTION, "storage corruption")
)

// errors initialization functions

func NewUnknownError(message string, params ...interface{}) error {
	return New(ERR_UNKNOWN, message, params...)
}
func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}
func NewNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NOT_FOUND, message, params...)
}
func NewProcessingError(message string, params ...interface{}) error {
	return New(ERR_PROCESSING, message, params...)
}
func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}
func NewContextCanceledError(message string, params ...interface{}) error {
	return New(ERR_CONTEXT_CANCELED, message, params...)
}
func NewError(message string, params ...interface{}) error {
	return New(ERR_ERROR, message, params...)
}
func NewStateAbortedError(message string, params ...interface{}) error {
	return New(ERR_STATE_ABORTED, message, params...)
}
func NewBlockNotFoundError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_NOT_FOUND, message, params...)
}
func NewBlockExistsError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_EXISTS, message, params...)
}
func NewBlockError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_ERROR, message, params...)
}
func NewBlockParentInvalidError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_PARENT_INVALID, message, params...)
}
func NewBlockOrphanError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_ORPHAN, message, params...)
}
func NewTxNotFoundError(message string, params ...interface{}) error {
	return New(ERR_TX_NOT_FOUND, message, params...)
}
func NewTxAlreadyExistsError(message string, params ...interface{}) error {
	return New(ERR_TX_ALREADY_EXISTS, message, params...)
}
func NewTxError(message string, params ...interface{}) error {
	return New(ERR_TX_ERROR, message, params...)
}
func NewNoSuchCoinError(message string, params ...interface{}) error {
	return New(ERR_NO_SUCH_COIN, message, params...)
}
func NewSpentError(message string, params ...interface{}) error {
	return New(ERR_SPENT, message, params...)
}
func NewOverwriteError(message string, params ...interface{}) error {
	return New(ERR_OVERWRITE, message, params...)
}
func NewContractExecutionError(message string, params ...interface{}) error {
	return New(ERR_CONTRACT_EXECUTION, message, params...)
}
func NewServiceError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_ERROR, message, params...)
}
func NewServiceNotStartedError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_NOT_STARTED, message, params...)
}
func NewStorageError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_ERROR, message, params...)
}
func NewStorageCorruptionError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_CORRUPTION, message, params...)
}
