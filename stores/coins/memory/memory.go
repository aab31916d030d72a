// Package memory is a map-backed coins.View used by tests and as a scratch base for throw-away caches.
package memory

import (
	"context"
	"sync"

	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

type Memory struct {
	mu        sync.RWMutex
	coins     map[wire.OutPoint]*model.Coin
	bestBlock chainhash.Hash

	// FailWrites makes BatchWrite fail without applying anything.
	FailWrites error
}

func New() *Memory {
	return &Memory{
		coins: make(map[wire.OutPoint]*model.Coin),
	}
}

func (m *Memory) GetCoin(outpoint wire.OutPoint) (*model.Coin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.coins[outpoint].Clone(), nil
}

func (m *Memory) HaveCoin(outpoint wire.OutPoint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.coins[outpoint]

	return ok, nil
}

func (m *Memory) BestBlock() (chainhash.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.bestBlock, nil
}

func (m *Memory) BatchWrite(_ context.Context, changes []coins.Change, bestBlock chainhash.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}

	for _, change := range changes {
		if change.Coin == nil {
			delete(m.coins, change.Outpoint)
		} else {
			m.coins[change.Outpoint] = change.Coin.Clone()
		}
	}

	m.bestBlock = bestBlock

	return nil
}

// Count returns the number of unspent coins held.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.coins)
}

// Snapshot returns a copy of every coin, for comparing states in tests and chain verification.
func (m *Memory) Snapshot() map[wire.OutPoint]model.Coin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[wire.OutPoint]model.Coin, len(m.coins))
	for outpoint, coin := range m.coins {
		snapshot[outpoint] = *coin.Clone()
	}

	return snapshot
}
