package blockchain

import (
	"context"
	"sort"
	"sync"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MockStore keeps the block index in memory. FailWrites, when set, is returned by every write.
type MockStore struct {
	mu         sync.Mutex
	records    map[chainhash.Hash]*model.BlockIndexRecord
	order      map[chainhash.Hash]int
	state      map[string][]byte
	FailWrites error
}

func NewMockStore() *MockStore {
	return &MockStore{
		records: map[chainhash.Hash]*model.BlockIndexRecord{},
		order:   map[chainhash.Hash]int{},
		state:   map[string][]byte{},
	}
}

func (m *MockStore) StoreRecords(_ context.Context, records []*model.BlockIndexRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}

	for _, r := range records {
		c := *r
		if _, ok := m.order[r.Hash]; !ok {
			m.order[r.Hash] = len(m.order)
		}

		m.records[r.Hash] = &c
	}

	return nil
}

func (m *MockStore) LoadRecords(_ context.Context) ([]*model.BlockIndexRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]*model.BlockIndexRecord, 0, len(m.records))
	for _, r := range m.records {
		c := *r
		records = append(records, &c)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Height != records[j].Height {
			return records[i].Height < records[j].Height
		}

		return m.order[records[i].Hash] < m.order[records[j].Hash]
	})

	return records, nil
}

func (m *MockStore) GetState(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.state[key]
	if !ok {
		return nil, errors.NewNotFoundError("state %s not found", key)
	}

	return data, nil
}

func (m *MockStore) SetState(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}

	m.state[key] = append([]byte(nil), data...)

	return nil
}

func (m *MockStore) Close() error {
	return nil
}

// Len returns the number of stored records.
func (m *MockStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.records)
}
