/*
Package notifier delivers chainstate events to registered handlers.

Handlers are called synchronously, in registration order, on the goroutine that raised the
event. The chainstate raises block events while it holds its lock, so a handler must not call
back into the chainstate; handlers that need to do more work hand the event to their own
goroutine.

Usage:

	n := notifier.New(logger)
	id := n.Register(func(ctx context.Context, event *notifier.Event) {
		logger.Infof("%s %s", event.Kind, event.Hash)
	})
	defer n.Unregister(id)
*/
package notifier

import (
	"context"
	"sync"

	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Kind identifies the event raised.
type Kind uint8

const (
	BlockConnected Kind = iota + 1
	BlockDisconnected
	UpdatedBlockTip
	TransactionAdded
	TransactionRemoved
	BlockChecked
)

func (k Kind) String() string {
	switch k {
	case BlockConnected:
		return "BlockConnected"
	case BlockDisconnected:
		return "BlockDisconnected"
	case UpdatedBlockTip:
		return "UpdatedBlockTip"
	case TransactionAdded:
		return "TransactionAdded"
	case TransactionRemoved:
		return "TransactionRemoved"
	case BlockChecked:
		return "BlockChecked"
	default:
		return "Unknown"
	}
}

// RemovalReason says why a transaction left the mempool.
type RemovalReason uint8

const (
	RemovalUnknown RemovalReason = iota
	// RemovalBlock is a transaction confirmed by a connected block.
	RemovalBlock
	// RemovalConflict is a transaction spending an input also spent by a confirmed transaction.
	RemovalConflict
	// RemovalReorg is a transaction no longer valid after blocks were disconnected.
	RemovalReorg
	// RemovalExplicit is a transaction removed on request, with its descendants.
	RemovalExplicit
)

func (r RemovalReason) String() string {
	switch r {
	case RemovalBlock:
		return "block"
	case RemovalConflict:
		return "conflict"
	case RemovalReorg:
		return "reorg"
	case RemovalExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// Event is one notification. Block events carry the block, its hash and height; transaction
// events carry the transaction. BlockChecked carries the validation error, nil for a valid block.
type Event struct {
	Kind     Kind
	Hash     chainhash.Hash
	Height   int32
	Block    *model.Block
	Tx       *wire.MsgTx
	Reason   RemovalReason
	Err      error
	ForkHash chainhash.Hash // UpdatedBlockTip: last common block with the previous tip

	InitialDownload bool
}

// Handler receives events.
type Handler func(ctx context.Context, event *Event)

type registration struct {
	id      uint64
	handler Handler
}

// Notifier is the handler registry.
type Notifier struct {
	logger   ulogger.Logger
	mu       sync.RWMutex
	nextID   uint64
	handlers []registration
}

func New(logger ulogger.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Register adds handler and returns the id to unregister it with.
func (n *Notifier) Register(handler Handler) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	n.handlers = append(n.handlers, registration{id: n.nextID, handler: handler})

	n.logger.Debugf("[Notifier] handler %d registered (Total=%d)", n.nextID, len(n.handlers))

	return n.nextID
}

// Unregister removes the handler registered under id and reports whether it was found.
func (n *Notifier) Unregister(id uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, r := range n.handlers {
		if r.id == id {
			n.handlers = append(n.handlers[:i:i], n.handlers[i+1:]...)
			return true
		}
	}

	return false
}

func (n *Notifier) UnregisterAll() {
	n.mu.Lock()
	n.handlers = nil
	n.mu.Unlock()
}

// Len returns the number of registered handlers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.handlers)
}

// Notify calls every handler with event. A nil Notifier drops events.
func (n *Notifier) Notify(ctx context.Context, event *Event) {
	if n == nil {
		return
	}

	n.mu.RLock()
	handlers := make([]registration, len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.RUnlock()

	for _, r := range handlers {
		r.handler(ctx, event)
	}
}

func (n *Notifier) BlockConnected(ctx context.Context, block *model.Block, height int32) {
	n.Notify(ctx, &Event{Kind: BlockConnected, Hash: *block.Hash(), Height: height, Block: block})
}

func (n *Notifier) BlockDisconnected(ctx context.Context, block *model.Block, height int32) {
	n.Notify(ctx, &Event{Kind: BlockDisconnected, Hash: *block.Hash(), Height: height, Block: block})
}

func (n *Notifier) UpdatedBlockTip(ctx context.Context, tip chainhash.Hash, height int32, fork chainhash.Hash, initialDownload bool) {
	n.Notify(ctx, &Event{Kind: UpdatedBlockTip, Hash: tip, Height: height, ForkHash: fork, InitialDownload: initialDownload})
}

func (n *Notifier) TransactionAdded(ctx context.Context, tx *wire.MsgTx) {
	n.Notify(ctx, &Event{Kind: TransactionAdded, Hash: tx.TxHash(), Tx: tx})
}

func (n *Notifier) TransactionRemoved(ctx context.Context, tx *wire.MsgTx, reason RemovalReason) {
	n.Notify(ctx, &Event{Kind: TransactionRemoved, Hash: tx.TxHash(), Tx: tx, Reason: reason})
}

func (n *Notifier) BlockChecked(ctx context.Context, block *model.Block, err error) {
	n.Notify(ctx, &Event{Kind: BlockChecked, Hash: *block.Hash(), Block: block, Err: err})
}
