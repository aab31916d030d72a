package blockchain

import "strings"

// BlockStatus is the validity ladder of a block index node plus its data and failure flags.
// The validity part only moves forward; the failure flags are sticky until reconsidered.
type BlockStatus uint32

const (
	StatusValidUnknown BlockStatus = 0
	// StatusValidHeader: parsed, proof of work or stake and timestamp checked.
	StatusValidHeader BlockStatus = 1
	// StatusValidTree: all parents found, difficulty matches, timestamp after median time past.
	StatusValidTree BlockStatus = 2
	// StatusValidTransactions: the block passed context-free checks and its data is stored.
	StatusValidTransactions BlockStatus = 3
	// StatusValidChain: outputs do not overspend inputs, no double spends, coinbase ok.
	StatusValidChain BlockStatus = 4
	// StatusValidScripts: scripts and signatures ok.
	StatusValidScripts BlockStatus = 5
	StatusValidMask    BlockStatus = 7

	StatusHaveData    BlockStatus = 8
	StatusHaveUndo    BlockStatus = 16
	StatusFailedValid BlockStatus = 32
	StatusFailedChild BlockStatus = 64
	StatusFailedMask              = StatusFailedValid | StatusFailedChild
)

func (s BlockStatus) Validity() BlockStatus {
	return s & StatusValidMask
}

func (s BlockStatus) IsFailed() bool {
	return s&StatusFailedMask != 0
}

// IsValid reports whether the node is not failed and has reached at least upTo.
func (s BlockStatus) IsValid(upTo BlockStatus) bool {
	return !s.IsFailed() && s.Validity() >= upTo
}

func (s BlockStatus) HaveData() bool {
	return s&StatusHaveData != 0
}

func (s BlockStatus) HaveUndo() bool {
	return s&StatusHaveUndo != 0
}

func (s BlockStatus) String() string {
	names := []string{"unknown", "header", "tree", "transactions", "chain", "scripts"}

	var sb strings.Builder

	if v := int(s.Validity()); v < len(names) {
		sb.WriteString(names[v])
	} else {
		sb.WriteString("invalid-level")
	}

	for _, f := range []struct {
		flag BlockStatus
		name string
	}{
		{StatusHaveData, "data"},
		{StatusHaveUndo, "undo"},
		{StatusFailedValid, "failed"},
		{StatusFailedChild, "failed-child"},
	} {
		if s&f.flag != 0 {
			sb.WriteString("|")
			sb.WriteString(f.name)
		}
	}

	return sb.String()
}
