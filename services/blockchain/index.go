// Package blockchain holds the block index: an arena of every known header with its validity
// status, the active chain over it, and the difficulty rules that depend on it.
package blockchain

import (
	"context"
	"sort"
	"sync"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	blockindex "github.com/bsv-blockchain/chainstate/stores/blockchain"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/util"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Index is the arena of block index nodes. Nodes are never removed.
type Index struct {
	mu           sync.RWMutex
	logger       ulogger.Logger
	params       *chaincfg.Params
	nodes        []*Node
	byHash       map[chainhash.Hash]NodeID
	children     map[NodeID][]NodeID
	candidates   map[NodeID]struct{}
	dirty        map[NodeID]struct{}
	nextSequence int64
}

func NewIndex(logger ulogger.Logger, params *chaincfg.Params) *Index {
	return &Index{
		logger:       logger,
		params:       params,
		byHash:       make(map[chainhash.Hash]NodeID),
		children:     make(map[NodeID][]NodeID),
		candidates:   make(map[NodeID]struct{}),
		dirty:        make(map[NodeID]struct{}),
		nextSequence: 1,
	}
}

func (idx *Index) Params() *chaincfg.Params {
	return idx.params
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.nodes)
}

// Lookup returns the node for hash, or nil.
func (idx *Index) Lookup(hash chainhash.Hash) *Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if id, ok := idx.byHash[hash]; ok {
		return idx.nodes[id]
	}

	return nil
}

// Node returns the node with the given id, or nil for NoNode.
func (idx *Index) Node(id NodeID) *Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.node(id)
}

func (idx *Index) node(id NodeID) *Node {
	if id < 0 || int(id) >= len(idx.nodes) {
		return nil
	}

	return idx.nodes[id]
}

func (idx *Index) Parent(n *Node) *Node {
	return idx.Node(n.Parent)
}

// AddHeader inserts the header into the index and returns its node. A header that is already
// known returns the existing node. A header whose parent is unknown fails with ERR_BLOCK_ORPHAN.
func (idx *Index) AddHeader(header *model.BlockHeader, proofOfStake bool) (*Node, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	hash := *header.Hash()
	if id, ok := idx.byHash[hash]; ok {
		return idx.nodes[id], nil
	}

	var parent *Node

	if header.HashPrevBlock == nil || header.HashPrevBlock.IsEqual(&chainhash.Hash{}) {
		if !hash.IsEqual(idx.params.GenesisHash) {
			return nil, errors.NewBlockInvalidError(100, errors.RejectInvalid, "bad-genesis", "block %s has no parent and is not the genesis block", hash)
		}
	} else {
		id, ok := idx.byHash[*header.HashPrevBlock]
		if !ok {
			return nil, errors.NewBlockOrphanError("parent %s of block %s is unknown", header.HashPrevBlock, hash)
		}

		parent = idx.nodes[id]
	}

	n := &Node{
		ID:           NodeID(len(idx.nodes)),
		Hash:         hash,
		Parent:       NoNode,
		skip:         NoNode,
		Status:       StatusValidHeader,
		Version:      header.Version,
		Timestamp:    header.Timestamp,
		Bits:         header.Bits,
		Nonce:        header.Nonce,
		DataPos:      model.NullDiskBlockPos,
		UndoPos:      model.NullDiskBlockPos,
		ProofOfStake: proofOfStake,
	}

	if header.HashPrevBlock != nil {
		n.PrevHash = *header.HashPrevBlock
	}

	if header.HashMerkleRoot != nil {
		n.MerkleRoot = *header.HashMerkleRoot
	}

	if header.HashStateRoot != nil {
		n.StateRoot = *header.HashStateRoot
	}

	if parent != nil {
		n.Parent = parent.ID
		n.Height = parent.Height + 1
		n.ChainWork = util.CalculateWork(parent.ChainWork, header.Bits)

		if parent.Status.IsFailed() {
			n.Status |= StatusFailedChild
		}
	} else {
		n.ChainWork = util.CalculateWork(nil, header.Bits)
	}

	idx.insert(n)

	return n, nil
}

func (idx *Index) insert(n *Node) {
	idx.nodes = append(idx.nodes, n)
	idx.byHash[n.Hash] = n.ID

	if n.Parent != NoNode {
		idx.children[n.Parent] = append(idx.children[n.Parent], n.ID)

		if skip := idx.ancestor(idx.nodes[n.Parent], skipHeight(n.Height)); skip != nil {
			n.skip = skip.ID
		}
	}

	idx.dirty[n.ID] = struct{}{}
}

// Ancestor returns the ancestor of n at height, n itself at its own height, or nil.
func (idx *Index) Ancestor(n *Node, height int32) *Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.ancestor(n, height)
}

func (idx *Index) ancestor(n *Node, height int32) *Node {
	if n == nil || height > n.Height || height < 0 {
		return nil
	}

	walk := n
	heightWalk := n.Height

	for heightWalk > height {
		heightSkip := skipHeight(heightWalk)
		heightSkipPrev := skipHeight(heightWalk - 1)

		if walk.skip != NoNode && (heightSkip == height ||
			(heightSkip > height && !(heightSkipPrev < heightSkip-2 && heightSkipPrev >= height))) {
			walk = idx.nodes[walk.skip]
			heightWalk = heightSkip
		} else {
			walk = idx.nodes[walk.Parent]
			heightWalk--
		}
	}

	return walk
}

// LastCommonAncestor returns the fork point of a and b.
func (idx *Index) LastCommonAncestor(a, b *Node) *Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if a.Height > b.Height {
		a = idx.ancestor(a, b.Height)
	} else if b.Height > a.Height {
		b = idx.ancestor(b, a.Height)
	}

	for a != nil && b != nil && a.ID != b.ID {
		a = idx.node(a.Parent)
		b = idx.node(b.Parent)
	}

	return a
}

// RaiseValidity moves n up the validity ladder. It reports false when n is failed or already
// at least at level.
func (idx *Index) RaiseValidity(n *Node, level BlockStatus) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.raiseValidity(n, level)
}

func (idx *Index) raiseValidity(n *Node, level BlockStatus) bool {
	if n.Status.IsFailed() || n.Status.Validity() >= level {
		return false
	}

	n.Status = (n.Status &^ StatusValidMask) | level
	idx.dirty[n.ID] = struct{}{}

	return true
}

// SetHaveData records where the block data of n is stored and assigns its sequence id. Once
// every ancestor has data the node and any waiting descendants become tip candidates.
func (idx *Index) SetHaveData(n *Node, txCount uint32, pos model.DiskBlockPos) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n.TxCount = txCount
	n.DataPos = pos
	n.Status |= StatusHaveData
	n.SequenceID = idx.nextSequence
	idx.nextSequence++
	idx.raiseValidity(n, StatusValidTransactions)
	idx.dirty[n.ID] = struct{}{}

	parent := idx.node(n.Parent)
	if parent != nil && parent.ChainTxCount == 0 {
		return
	}

	idx.linkChainTx(n)
}

// linkChainTx sets the chain transaction count of n and of every descendant whose data is
// already present.
func (idx *Index) linkChainTx(n *Node) {
	queue := []*Node{n}

	for len(queue) > 0 {
		q := queue[0]
		queue = queue[1:]

		q.ChainTxCount = uint64(q.TxCount)
		if parent := idx.node(q.Parent); parent != nil {
			q.ChainTxCount += parent.ChainTxCount
		}

		idx.maybeAddCandidate(q)

		for _, childID := range idx.children[q.ID] {
			if child := idx.nodes[childID]; child.Status.HaveData() && child.ChainTxCount == 0 {
				queue = append(queue, child)
			}
		}
	}
}

func (idx *Index) maybeAddCandidate(n *Node) {
	if n.Status.IsValid(StatusValidTransactions) && n.ChainTxCount > 0 {
		idx.candidates[n.ID] = struct{}{}
	}
}

// SetUndoPos records where the undo data of n is stored.
func (idx *Index) SetUndoPos(n *Node, pos model.DiskBlockPos) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n.UndoPos = pos
	n.Status |= StatusHaveUndo
	idx.dirty[n.ID] = struct{}{}
}

// MarkFailed flags n as invalid and every known descendant as having a failed ancestor.
func (idx *Index) MarkFailed(n *Node) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n.Status |= StatusFailedValid
	idx.dirty[n.ID] = struct{}{}
	delete(idx.candidates, n.ID)

	idx.walkDescendants(n, func(d *Node) {
		d.Status |= StatusFailedChild
		idx.dirty[d.ID] = struct{}{}
		delete(idx.candidates, d.ID)
	})
}

// ClearFailed removes the failure flags from n, its descendants and its ancestors. Nodes that
// become eligible are candidates again.
func (idx *Index) ClearFailed(n *Node) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	reset := func(d *Node) {
		if d.Status.IsFailed() {
			d.Status &^= StatusFailedMask
			idx.dirty[d.ID] = struct{}{}
		}

		idx.maybeAddCandidate(d)
	}

	reset(n)
	idx.walkDescendants(n, reset)

	for p := idx.node(n.Parent); p != nil; p = idx.node(p.Parent) {
		reset(p)
	}
}

func (idx *Index) walkDescendants(n *Node, fn func(*Node)) {
	queue := append([]NodeID(nil), idx.children[n.ID]...)

	for len(queue) > 0 {
		d := idx.nodes[queue[0]]
		queue = queue[1:]

		fn(d)

		queue = append(queue, idx.children[d.ID]...)
	}
}

// FindBestCandidate returns the best node that has all block data back to genesis and is not
// failed, or nil.
func (idx *Index) FindBestCandidate() *Node {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var best *Node

	for id := range idx.candidates {
		n := idx.nodes[id]
		if !n.Status.IsValid(StatusValidTransactions) || n.ChainTxCount == 0 {
			delete(idx.candidates, id)
			continue
		}

		if best == nil || n.BetterThan(best) {
			best = n
		}
	}

	return best
}

// PruneCandidates drops candidates that are worse than tip. The tip itself stays.
func (idx *Index) PruneCandidates(tip *Node) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for id := range idx.candidates {
		if id != tip.ID && tip.BetterThan(idx.nodes[id]) {
			delete(idx.candidates, id)
		}
	}
}

// RebuildCandidates re-adds every eligible node that is at least as good as tip. It is needed
// after the tip moved backwards.
func (idx *Index) RebuildCandidates(tip *Node) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, n := range idx.nodes {
		if tip == nil || n.ID == tip.ID || !tip.BetterThan(n) {
			idx.maybeAddCandidate(n)
		}
	}
}

// RemoveCandidate drops n from the candidate set without changing its status.
func (idx *Index) RemoveCandidate(n *Node) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.candidates, n.ID)
}

// CalcPastMedianTime returns the median timestamp of n and up to ten of its ancestors.
func (idx *Index) CalcPastMedianTime(n *Node) int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	timestamps := make([]int64, 0, util.MedianTimeSpan)
	for walk := n; walk != nil && len(timestamps) < util.MedianTimeSpan; walk = idx.node(walk.Parent) {
		timestamps = append(timestamps, walk.Time())
	}

	median, err := util.CalcPastMedianTime(timestamps)
	if err != nil {
		return 0
	}

	return median
}

// DirtyRecords returns the records of every node changed since the last successful flush,
// parents first.
func (idx *Index) DirtyRecords() []*model.BlockIndexRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make([]NodeID, 0, len(idx.dirty))
	for id := range idx.dirty {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})

	records := make([]*model.BlockIndexRecord, len(ids))
	for i, id := range ids {
		records[i] = idx.nodes[id].Record()
	}

	return records
}

// Flush writes the dirty nodes to store. They stay dirty when the write fails.
func (idx *Index) Flush(ctx context.Context, store blockindex.Store) error {
	records := idx.DirtyRecords()
	if len(records) == 0 {
		return nil
	}

	if err := store.StoreRecords(ctx, records); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, r := range records {
		id := idx.byHash[r.Hash]
		// a node changed again while the write was in flight stays dirty
		if n := idx.nodes[id]; n.Status == BlockStatus(r.Status) && n.UndoPos == r.UndoPos && n.DataPos == r.DataPos {
			delete(idx.dirty, id)
		}
	}

	return nil
}

// Load rebuilds the index from store. Records must arrive parents first.
func (idx *Index) Load(ctx context.Context, store blockindex.Store) error {
	records, err := store.LoadRecords(ctx)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, r := range records {
		if _, ok := idx.byHash[r.Hash]; ok {
			continue
		}

		n := &Node{
			ID:           NodeID(len(idx.nodes)),
			Hash:         r.Hash,
			PrevHash:     r.PrevHash,
			Parent:       NoNode,
			skip:         NoNode,
			Height:       r.Height,
			ChainWork:    r.ChainWork,
			Status:       BlockStatus(r.Status),
			Version:      r.Version,
			Timestamp:    r.Timestamp,
			Bits:         r.Bits,
			Nonce:        r.Nonce,
			MerkleRoot:   r.MerkleRoot,
			StateRoot:    r.StateRoot,
			DataPos:      r.DataPos,
			UndoPos:      r.UndoPos,
			TxCount:      r.TxCount,
			SequenceID:   r.SequenceID,
			ProofOfStake: r.ProofOfStake,
		}

		if r.Height > 0 {
			parentID, ok := idx.byHash[r.PrevHash]
			if !ok {
				return errors.NewStorageCorruptionError("block index record %s at height %d has no parent %s", r.Hash, r.Height, r.PrevHash)
			}

			n.Parent = parentID
		}

		idx.insert(n)
		delete(idx.dirty, n.ID)

		if n.SequenceID >= idx.nextSequence {
			idx.nextSequence = n.SequenceID + 1
		}

		if n.Status.HaveData() {
			if parent := idx.node(n.Parent); parent == nil || parent.ChainTxCount > 0 {
				n.ChainTxCount = uint64(n.TxCount)
				if parent != nil {
					n.ChainTxCount += parent.ChainTxCount
				}

				idx.maybeAddCandidate(n)
			}
		}
	}

	idx.logger.Infof("loaded %d block index records", len(records))

	return nil
}
