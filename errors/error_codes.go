package errors

// ERR is the numeric error code carried by *Error.
type ERR int32

const (
	ERR_UNKNOWN          ERR = 0
	ERR_INVALID_ARGUMENT ERR = 1
	ERR_NOT_FOUND        ERR = 2
	ERR_PROCESSING       ERR = 3
	ERR_CONFIGURATION    ERR = 4
	ERR_CONTEXT_CANCELED ERR = 5
	ERR_ERROR            ERR = 6
	ERR_STATE_ABORTED    ERR = 7

	// block errors
	ERR_BLOCK_NOT_FOUND      ERR = 10
	ERR_BLOCK_INVALID        ERR = 11
	ERR_BLOCK_EXISTS         ERR = 12
	ERR_BLOCK_ERROR          ERR = 13
	ERR_BLOCK_PARENT_INVALID ERR = 14
	ERR_BLOCK_ORPHAN         ERR = 15

	// transaction errors
	ERR_TX_NOT_FOUND            ERR = 30
	ERR_TX_INVALID              ERR = 31
	ERR_TX_INVALID_DOUBLE_SPEND ERR = 32
	ERR_TX_ALREADY_EXISTS       ERR = 33
	ERR_TX_MISSING_INPUTS       ERR = 34
	ERR_TX_NON_FINAL            ERR = 35
	ERR_TX_POLICY               ERR = 36
	ERR_TX_INSUFFICIENT_FEE     ERR = 37
	ERR_TX_COINBASE_IMMATURE    ERR = 38
	ERR_COINBASE_MISSING_HEIGHT ERR = 39
	ERR_TX_ERROR                ERR = 40

	// script errors
	ERR_SCRIPT_VERIFY ERR = 50

	// coins errors
	ERR_NO_SUCH_COIN ERR = 60
	ERR_SPENT        ERR = 61
	ERR_OVERWRITE    ERR = 62

	// contract errors
	ERR_CONTRACT_INVALID    ERR = 70
	ERR_CONTRACT_GAS        ERR = 71
	ERR_CONTRACT_STATE_ROOT ERR = 72
	ERR_CONTRACT_EXECUTION  ERR = 73

	// service / storage errors
	ERR_SERVICE_ERROR       ERR = 80
	ERR_SERVICE_NOT_STARTED ERR = 81
	ERR_STORAGE_ERROR       ERR = 90
	ERR_STORAGE_CORRUPTION  ERR = 91
)

var ERR_name = map[int32]string{
	0:  "UNKNOWN",
	1:  "INVALID_ARGUMENT",
	2:  "NOT_FOUND",
	3:  "PROCESSING",
	4:  "CONFIGURATION",
	5:  "CONTEXT_CANCELED",
	6:  "ERROR",
	7:  "STATE_ABORTED",
	10: "BLOCK_NOT_FOUND",
	11: "BLOCK_INVALID",
	12: "BLOCK_EXISTS",
	13: "BLOCK_ERROR",
	14: "BLOCK_PARENT_INVALID",
	15: "BLOCK_ORPHAN",
	30: "TX_NOT_FOUND",
	31: "TX_INVALID",
	32: "TX_INVALID_DOUBLE_SPEND",
	33: "TX_ALREADY_EXISTS",
	34: "TX_MISSING_INPUTS",
	35: "TX_NON_FINAL",
	36: "TX_POLICY",
	37: "TX_INSUFFICIENT_FEE",
	38: "TX_COINBASE_IMMATURE",
	39: "COINBASE_MISSING_HEIGHT",
	40: "TX_ERROR",
	50: "SCRIPT_VERIFY",
	60: "NO_SUCH_COIN",
	61: "SPENT",
	62: "OVERWRITE",
	70: "CONTRACT_INVALID",
	71: "CONTRACT_GAS",
	72: "CONTRACT_STATE_ROOT",
	73: "CONTRACT_EXECUTION",
	80: "SERVICE_ERROR",
	81: "SERVICE_NOT_STARTED",
	90: "STORAGE_ERROR",
	91: "STORAGE_CORRUPTION",
}

var ERR_value = func() map[string]int32 {
	m := make(map[string]int32, len(ERR_name))
	for k, v := range ERR_name {
		m[v] = k
	}

	return m
}()

func (x ERR) String() string {
	if name, ok := ERR_name[int32(x)]; ok {
		return name
	}

	return "UNKNOWN"
}
