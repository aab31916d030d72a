package chainstate

import (
	"sync"

	txmap "github.com/bsv-blockchain/go-tx-map"
)

// PeerScores accumulates the misbehavior score of each peer. A peer whose score reaches the
// threshold is banned until Forgive is called.
type PeerScores struct {
	threshold int
	mu        sync.Mutex // serialises read-modify-write of a score
	scores    *txmap.SyncedMap[string, int]
}

func NewPeerScores(threshold int) *PeerScores {
	return &PeerScores{
		threshold: threshold,
		scores:    txmap.NewSyncedMap[string, int](),
	}
}

// Add raises the score of peer by dos and returns the new score and whether the peer is now
// banned. Anonymous submissions are not scored.
func (p *PeerScores) Add(peer string, dos int) (int, bool) {
	if peer == "" || dos <= 0 {
		return p.Score(peer), p.IsBanned(peer)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	score, _ := p.scores.Get(peer)
	score += dos
	p.scores.Set(peer, score)

	return score, score >= p.threshold
}

func (p *PeerScores) Score(peer string) int {
	score, _ := p.scores.Get(peer)
	return score
}

func (p *PeerScores) IsBanned(peer string) bool {
	return p.Score(peer) >= p.threshold
}

// Forgive clears the score of peer.
func (p *PeerScores) Forgive(peer string) {
	p.scores.Delete(peer)
}

// Handler returns a MisbehaviorHandler that scores peers and calls banned once for each peer
// crossing the threshold.
func (p *PeerScores) Handler(banned func(peer string, score int, reason string)) MisbehaviorHandler {
	return func(peer string, dos int, reason string) {
		before := p.IsBanned(peer)

		score, isBanned := p.Add(peer, dos)
		if isBanned && !before && banned != nil {
			banned(peer, score, reason)
		}
	}
}
