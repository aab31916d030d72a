package chainstate

import (
	"context"
	"sync"
	"testing"

	"github.com/bsv-blockchain/chainstate/test/utils/blocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerScores(t *testing.T) {
	t.Run("scores accumulate up to the ban", func(t *testing.T) {
		scores := NewPeerScores(100)

		score, banned := scores.Add("peer", 10)
		assert.Equal(t, 10, score)
		assert.False(t, banned)

		score, banned = scores.Add("peer", 90)
		assert.Equal(t, 100, score)
		assert.True(t, banned)
		assert.True(t, scores.IsBanned("peer"))
		assert.False(t, scores.IsBanned("other"))

		scores.Forgive("peer")
		assert.Zero(t, scores.Score("peer"))
		assert.False(t, scores.IsBanned("peer"))
	})

	t.Run("anonymous and zero scores are ignored", func(t *testing.T) {
		scores := NewPeerScores(100)

		_, banned := scores.Add("", 100)
		assert.False(t, banned)
		assert.Zero(t, scores.Score(""))

		scores.Add("peer", 0)
		assert.Zero(t, scores.Score("peer"))
	})

	t.Run("concurrent reports", func(t *testing.T) {
		scores := NewPeerScores(1_000)

		var wg sync.WaitGroup

		for i := 0; i < 50; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()
				scores.Add("peer", 2)
			}()
		}

		wg.Wait()

		assert.Equal(t, 100, scores.Score("peer"))
	})

	t.Run("handler bans once", func(t *testing.T) {
		scores := NewPeerScores(100)

		var bans []string

		handler := scores.Handler(func(peer string, score int, reason string) {
			bans = append(bans, peer+":"+reason)
		})

		handler("peer", 50, "bad-txns-vin-empty")
		handler("peer", 50, "bad-cb-amount")
		handler("peer", 100, "bad-cb-amount")

		require.Len(t, bans, 1)
		assert.Equal(t, "peer:bad-cb-amount", bans[0])
		assert.Equal(t, 200, scores.Score("peer"))
	})
}

func TestPeerScoresFromConnectTimeRejection(t *testing.T) {
	tc := newTestChainState(t, t.TempDir())
	scores := NewPeerScores(tc.cs.settings.Policy.BanScore)

	// a block paying more than the subsidy is rejected when connected
	block := tc.build(t, tc.cs.Tip(), blocks.WithReward(tc.cs.params.BlockSubsidy(1, false)+1, tc.miner.PubKey()))
	require.Error(t, tc.cs.ProcessNewBlock(context.Background(), block, "greedy-peer"))

	tc.mu.Lock()
	for _, m := range tc.misbehaving {
		scores.Add(m.peer, m.dos)
	}
	tc.mu.Unlock()

	assert.True(t, scores.IsBanned("greedy-peer"))
}
