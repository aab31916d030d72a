package mempool

import (
	"context"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/contract"
	"github.com/bsv-blockchain/chainstate/services/validator"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/tracing"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const missingParentsKey = "missingParents"

// AcceptOptions tune the admission of one transaction.
type AcceptOptions struct {
	// LimitFree applies the minimum relay fee and rate limits free transactions.
	LimitFree bool
	// OverrideAbsurdFee accepts fees above MaxTxFeeMultiplier times the minimum relay fee.
	OverrideAbsurdFee bool
	// BypassLimits skips the fee, free relay and ancestor limits, for transactions returned to
	// the mempool by a reorg.
	BypassLimits bool
}

type AcceptOption func(*AcceptOptions)

// NewAcceptOptions returns the options for relayed transactions: free transactions are rate
// limited and absurd fees rejected.
func NewAcceptOptions(opts ...AcceptOption) *AcceptOptions {
	options := &AcceptOptions{LimitFree: true}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

func WithLimitFree(limitFree bool) AcceptOption {
	return func(o *AcceptOptions) {
		o.LimitFree = limitFree
	}
}

func WithOverrideAbsurdFee() AcceptOption {
	return func(o *AcceptOptions) {
		o.OverrideAbsurdFee = true
	}
}

func WithBypassLimits() AcceptOption {
	return func(o *AcceptOptions) {
		o.BypassLimits = true
		o.LimitFree = false
	}
}

// MissingParents returns the ids of the unknown transactions whose outputs a TX_MISSING_INPUTS
// rejection needs.
func MissingParents(err error) []chainhash.Hash {
	var e *errors.Error
	if !errors.As(err, &e) {
		return nil
	}

	parents, _ := e.GetData(missingParentsKey).([]chainhash.Hash)

	return parents
}

// AcceptToMemoryPool validates tx against the active chain and the mempool and adds it.
//
// Unknown inputs return a TX_MISSING_INPUTS error carrying the missing parent ids (see
// MissingParents); the transaction is neither added nor remembered as rejected. Any other
// rejection carries reject data (errors.GetReject) and is remembered until the tip changes.
//
// Returns the accepted entry.
func (m *Mempool) AcceptToMemoryPool(ctx context.Context, tx *wire.MsgTx, opts ...AcceptOption) (entry *Entry, err error) {
	ctx, _, deferFn := m.tracer.Start(ctx, "AcceptToMemoryPool",
		tracing.WithParentStat(m.stats),
		tracing.WithHistogram(prometheusMempoolAccept),
	)
	defer func() {
		deferFn(err)
	}()

	options := NewAcceptOptions(opts...)
	txID := tx.TxHash()

	m.mu.Lock()
	entry, err = m.accept(tx, txID, options, true)

	if err == nil {
		m.addUnchecked(entry)
	}
	m.mu.Unlock()

	if err != nil {
		m.rejected(tx.WitnessHash(), err)
		return nil, err
	}

	prometheusMempoolAccepted.Inc()

	m.logger.Debugf("[Mempool] accepted %s (fee %d, vsize %d, pool %d)", txID, entry.Fee, entry.Size, m.Size())

	m.notifier.TransactionAdded(ctx, tx)

	return entry, nil
}

// AcceptableInputs runs the admission checks of AcceptToMemoryPool without adding tx. Scripts are
// verified but nothing is stored in the script cache.
func (m *Mempool) AcceptableInputs(_ context.Context, tx *wire.MsgTx, opts ...AcceptOption) (*Entry, error) {
	options := NewAcceptOptions(opts...)

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.accept(tx, tx.TxHash(), options, false)
}

// rejected records a failed admission. Rejections are remembered under the witness hash, so a
// copy of the transaction with a tampered witness does not shadow the original.
func (m *Mempool) rejected(wtxID chainhash.Hash, err error) {
	reason := "error"

	reject, ok := errors.GetReject(err)
	if ok {
		reason = reject.Reason
	} else if errors.Is(err, errors.ErrTxMissingInputs) {
		reason = "missing-inputs"
	}

	prometheusMempoolRejected.WithLabelValues(reason).Inc()

	// only rejections that stay true until the chain moves are remembered
	if ok && !reject.CorruptionPossible && !errors.Is(err, errors.ErrTxAlreadyExists) {
		m.recentRejects.Set(wtxID, err, 0)
	}
}

// accept runs every admission check and returns the entry to add. The caller holds the mempool
// lock.
func (m *Mempool) accept(tx *wire.MsgTx, txID chainhash.Hash, options *AcceptOptions, cacheStore bool) (*Entry, error) {
	policy := m.settings.Policy

	if item := m.recentRejects.Get(tx.WitnessHash()); item != nil {
		return nil, item.Value()
	}

	if model.IsCoinBase(tx) {
		return nil, errors.NewTxInvalidError(100, errors.RejectInvalid, "coinbase", "coinbase %s as an individual transaction", txID)
	}

	if model.IsCoinStake(tx) {
		return nil, errors.NewTxInvalidError(100, errors.RejectInvalid, "coinstake", "coinstake %s as an individual transaction", txID)
	}

	if err := m.txValidator.CheckTransaction(tx); err != nil {
		return nil, err
	}

	if policy.RequireStandard {
		if err := validator.IsStandardTx(tx, policy); err != nil {
			return nil, err
		}
	}

	height := m.chain.TipHeight() + 1
	mtp := m.chain.MedianTimePast(height - 1)

	if !validator.IsFinalTx(tx, height, mtp) {
		return nil, errors.NewTxNonFinalError(0, "non-final", "transaction %s is not final at height %d", txID, height)
	}

	if _, ok := m.entries.Get(txID); ok {
		return nil, errors.NewTxAlreadyExistsError("txn-already-in-mempool: %s", txID)
	}

	for i, in := range tx.TxIn {
		if spender, ok := m.spenders.Get(in.PreviousOutPoint); ok {
			return nil, errors.NewTxDoubleSpendError("txn-mempool-conflict", "input %d of %s is spent by %s", i, txID, spender)
		}
	}

	spendHeight, err := safeconversion.Int32ToUint32(height)
	if err != nil {
		return nil, errors.NewProcessingError("mempool height %d", height, err)
	}

	tip := m.chain.CoinsTip()
	view := m.NewView(tip, spendHeight)

	if err := m.checkInputsKnown(tx, txID, tip, view); err != nil {
		return nil, err
	}

	if height >= m.params.CSVHeight {
		if err := m.checkSequenceLocks(tx, view, height, mtp); err != nil {
			return nil, err
		}
	}

	fee, err := validator.CheckTxInputs(tx, view, spendHeight, m.params)
	if err != nil {
		return nil, err
	}

	if policy.RequireStandard {
		if err = validator.AreInputsStandard(tx, view); err != nil {
			return nil, err
		}
	}

	sigOpCost, err := validator.CheckInputsSigOps(tx, view, validator.StandardScriptFlags, policy.MaxStandardTxSigOps)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		Tx:        tx,
		TxID:      txID,
		Fee:       fee,
		Size:      model.TxVirtualSize(tx),
		Weight:    model.TxWeight(tx),
		Height:    height - 1,
		Time:      time.Now(),
		SigOpCost: sigOpCost,
	}

	gasFee, err := m.checkContracts(tx, view, entry)
	if err != nil {
		return nil, err
	}

	entry.Priority, entry.SpendsCoinbase = m.priority(tx, view, spendHeight, entry.Size)

	if !options.BypassLimits {
		if err = m.checkFees(entry, fee-gasFee, options); err != nil {
			return nil, err
		}

		if err = m.checkAncestors(tx); err != nil {
			return nil, err
		}
	}

	blockFlags := validator.GetBlockScriptFlags(m.params, height)

	if err = m.txValidator.CheckInputs(tx, view, validator.StandardScriptFlags, blockFlags, cacheStore, nil); err != nil {
		return nil, err
	}

	if cacheStore {
		// the block flags are a subset of the standard flags, so only a bug makes this fail
		if err = m.txValidator.CheckInputs(tx, view, blockFlags, blockFlags, true, nil); err != nil {
			m.logger.Errorf("[Mempool] %s passes the standard script flags but fails the block flags: %v", txID, err)
			return nil, errors.NewProcessingError("script flag mismatch for %s", txID, err)
		}
	}

	return entry, nil
}

// checkInputsKnown returns TX_MISSING_INPUTS with the unknown parents when an input resolves
// neither in the chain tip nor in the mempool. A transaction whose outputs are already in the
// tip is known and rejected instead.
func (m *Mempool) checkInputsKnown(tx *wire.MsgTx, txID chainhash.Hash, tip coins.View, view *View) error {
	var missing []chainhash.Hash

	seen := make(map[chainhash.Hash]struct{})

	for _, in := range tx.TxIn {
		ok, err := view.HaveCoin(in.PreviousOutPoint)
		if err != nil {
			return errors.NewStorageError("failed to read coin %s", in.PreviousOutPoint, err)
		}

		if ok {
			continue
		}

		if _, dup := seen[in.PreviousOutPoint.Hash]; !dup {
			seen[in.PreviousOutPoint.Hash] = struct{}{}
			missing = append(missing, in.PreviousOutPoint.Hash)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	for i := range tx.TxOut {
		if known, _ := tip.HaveCoin(wire.OutPoint{Hash: txID, Index: uint32(i)}); known {
			return errors.NewTxAlreadyExistsError("txn-already-known: %s", txID)
		}
	}

	e := errors.New(errors.ERR_TX_MISSING_INPUTS, "transaction %s spends %d unknown transactions", txID, len(missing))
	e.SetData(missingParentsKey, missing)

	return e
}

func (m *Mempool) checkSequenceLocks(tx *wire.MsgTx, view *View, height int32, mtp int64) error {
	prevHeights := make([]int32, len(tx.TxIn))

	for i, in := range tx.TxIn {
		coin, err := view.GetCoin(in.PreviousOutPoint)
		if err != nil {
			return errors.NewStorageError("failed to read coin %s", in.PreviousOutPoint, err)
		}

		if coin != nil {
			if prevHeights[i], err = safeconversion.Uint32ToInt32(coin.Height); err != nil {
				return errors.NewProcessingError("coin %s has height %d", in.PreviousOutPoint, coin.Height, err)
			}
		}
	}

	lock := validator.CalcSequenceLock(tx, prevHeights, m.chain.MedianTimePast)
	if !lock.Satisfied(height, mtp) {
		return errors.NewTxNonFinalError(0, "non-BIP68-final", "transaction %s relative lock not satisfied", tx.TxHash())
	}

	return nil
}

// checkContracts applies the contract gas limits of the mempool and returns the gas fee the
// transaction fee must cover. Nothing is executed.
func (m *Mempool) checkContracts(tx *wire.MsgTx, view *View, entry *Entry) (int64, error) {
	if !model.HasContractOutput(tx) {
		return 0, nil
	}

	if m.contracts == nil {
		return 0, errors.NewTxPolicyError(errors.RejectNonstandard, "contract-disabled", "contract outputs are not accepted")
	}

	calls, err := m.contracts.CheckTransaction(tx, view, m.settings.Contract.MempoolMinGasLimit, 0)
	if err != nil {
		return 0, err
	}

	if err = contract.CheckGasFee(calls, entry.Fee); err != nil {
		return 0, err
	}

	var gasFee uint64

	for i, call := range calls {
		if i == 0 || call.GasPrice < entry.GasPrice {
			entry.GasPrice = call.GasPrice
		}

		fee, _ := call.GasFee()
		gasFee += fee
	}

	total, err := safeconversion.Uint64ToInt64(gasFee)
	if err != nil {
		return 0, errors.NewTxInvalidError(100, errors.RejectInvalid, "bad-txns-fee-outofrange", "gas fee %d of %s", gasFee, entry.TxID, err)
	}

	return total, nil
}

// priority returns the coin age priority of tx: the sum of input values weighted by their
// confirmations, divided by the size. Mempool inputs have no confirmations.
func (m *Mempool) priority(tx *wire.MsgTx, view *View, height uint32, size int64) (float64, bool) {
	var (
		sum            float64
		spendsCoinbase bool
	)

	for _, in := range tx.TxIn {
		coin, err := view.GetCoin(in.PreviousOutPoint)
		if err != nil || coin == nil {
			continue
		}

		if coin.IsCoinBase || coin.IsCoinStake {
			spendsCoinbase = true
		}

		if coin.Height < height {
			sum += float64(coin.Value) * float64(height-coin.Height)
		}
	}

	if size == 0 {
		return 0, spendsCoinbase
	}

	return sum / float64(size), spendsCoinbase
}

// checkFees applies the relay fee, the free transaction allowance and the absurd fee limit.
// relayFee excludes the gas fee of contract calls.
func (m *Mempool) checkFees(entry *Entry, relayFee int64, options *AcceptOptions) error {
	policy := m.settings.Policy
	fullFee := validator.GetMinRelayFee(entry.Size, false, policy, m.params.MaxMoney)

	if options.LimitFree {
		minFee := validator.GetMinRelayFee(entry.Size, validator.AllowFree(entry.Priority, policy), policy, m.params.MaxMoney)
		if relayFee < minFee {
			return errors.NewTxInsufficientFeeError("insufficient fee", "%s pays %s, needs %s", entry.TxID, btcutil.Amount(relayFee), btcutil.Amount(minFee))
		}

		if relayFee < fullFee && !m.freeLimiter.AllowN(time.Now(), int(entry.Size)) {
			return errors.NewTxInsufficientFeeError("rate limited free transaction", "%s of %d bytes", entry.TxID, entry.Size)
		}
	}

	if !options.OverrideAbsurdFee && policy.MaxTxFeeMultiplier > 0 && fullFee > 0 {
		if limit := fullFee * policy.MaxTxFeeMultiplier; relayFee > limit {
			return errors.NewTxPolicyError(errors.RejectInsufficientFee, "absurdly-high-fee", "%s pays %s, limit %s", entry.TxID, btcutil.Amount(relayFee), btcutil.Amount(limit))
		}
	}

	return nil
}

func (m *Mempool) checkAncestors(tx *wire.MsgTx) error {
	parents := make(map[chainhash.Hash]struct{})

	for _, in := range tx.TxIn {
		if _, ok := m.entries.Get(in.PreviousOutPoint.Hash); ok {
			parents[in.PreviousOutPoint.Hash] = struct{}{}
		}
	}

	if len(parents) == 0 {
		return nil
	}

	limit := m.settings.Policy.MempoolMaxAncestors
	if count := m.ancestorCount(parents, limit); count+1 > limit {
		return errors.NewTxPolicyError(errors.RejectNonstandard, "too-long-mempool-chain", "%d in-mempool ancestors, limit %d", count, limit)
	}

	return nil
}
