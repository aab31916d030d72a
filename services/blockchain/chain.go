package blockchain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Chain is the active chain: the node ids from genesis to the tip, indexed by height.
type Chain struct {
	idx *Index
	ids []NodeID
}

func NewChain(idx *Index) *Chain {
	return &Chain{idx: idx}
}

// Height is the height of the tip, or -1 for an empty chain.
func (c *Chain) Height() int32 {
	return int32(len(c.ids)) - 1
}

func (c *Chain) Tip() *Node {
	if len(c.ids) == 0 {
		return nil
	}

	return c.idx.Node(c.ids[len(c.ids)-1])
}

func (c *Chain) Genesis() *Node {
	if len(c.ids) == 0 {
		return nil
	}

	return c.idx.Node(c.ids[0])
}

// AtHeight returns the node at height, or nil when height is outside the chain.
func (c *Chain) AtHeight(height int32) *Node {
	if height < 0 || int(height) >= len(c.ids) {
		return nil
	}

	return c.idx.Node(c.ids[height])
}

func (c *Chain) Contains(n *Node) bool {
	return n != nil && n.Height >= 0 && int(n.Height) < len(c.ids) && c.ids[n.Height] == n.ID
}

// Next returns the successor of n in the chain, or nil when n is the tip or not in the chain.
func (c *Chain) Next(n *Node) *Node {
	if !c.Contains(n) {
		return nil
	}

	return c.AtHeight(n.Height + 1)
}

// SetTip makes n the tip, reusing the common prefix. A nil n empties the chain.
func (c *Chain) SetTip(n *Node) {
	if n == nil {
		c.ids = c.ids[:0]
		return
	}

	valid := len(c.ids)
	size := int(n.Height) + 1

	if size <= cap(c.ids) {
		c.ids = c.ids[:size]
	} else {
		ids := make([]NodeID, size, size+1024)
		copy(ids, c.ids)
		c.ids = ids
	}

	for walk := n; walk != nil; walk = c.idx.Node(walk.Parent) {
		if int(walk.Height) < valid && c.ids[walk.Height] == walk.ID {
			break
		}

		c.ids[walk.Height] = walk.ID
	}
}

// FindFork returns the last node of n's branch that is in the chain.
func (c *Chain) FindFork(n *Node) *Node {
	if n == nil {
		return nil
	}

	if n.Height > c.Height() {
		n = c.idx.Ancestor(n, c.Height())
	}

	for n != nil && !c.Contains(n) {
		n = c.idx.Node(n.Parent)
	}

	return n
}

// Locator returns hashes from n back to genesis, dense near n and exponentially sparser below.
// A nil n uses the tip.
func (c *Chain) Locator(n *Node) []chainhash.Hash {
	if n == nil {
		n = c.Tip()
	}

	step := int32(1)
	hashes := make([]chainhash.Hash, 0, 32)

	for n != nil {
		hashes = append(hashes, n.Hash)

		if n.Height == 0 {
			break
		}

		height := n.Height - step
		if height < 0 {
			height = 0
		}

		if c.Contains(n) {
			n = c.AtHeight(height)
		} else {
			n = c.idx.Ancestor(n, height)
		}

		if len(hashes) > 10 {
			step *= 2
		}
	}

	return hashes
}
