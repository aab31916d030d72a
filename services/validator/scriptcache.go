package validator

import (
	"encoding/binary"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/jellydator/ttlcache/v3"
)

// scriptCacheKey identifies a successful input script execution. It is keyed by the witness
// hash, so a copy of the transaction with a different witness misses the cache. The script hash
// commits to the spent output script and amount.
type scriptCacheKey struct {
	WTxID      chainhash.Hash
	InputIndex uint32
	ScriptHash chainhash.Hash
	Flags      txscript.ScriptFlags
}

func newScriptCacheKey(wtxID chainhash.Hash, inputIndex int, pkScript []byte, amount int64, flags txscript.ScriptFlags) scriptCacheKey {
	buf := make([]byte, 0, len(pkScript)+8)
	buf = append(buf, pkScript...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(amount))

	return scriptCacheKey{
		WTxID:      wtxID,
		InputIndex: uint32(inputIndex),
		ScriptHash: chainhash.HashH(buf),
		Flags:      flags,
	}
}

// ScriptCache remembers input scripts that verified successfully so that a transaction accepted
// into the mempool is not verified again when its block is connected.
type ScriptCache struct {
	cache *ttlcache.Cache[scriptCacheKey, struct{}]
}

// NewScriptCache creates a cache holding at most capacity entries, each for ttl. The cleanup
// goroutine runs until Stop is called.
func NewScriptCache(capacity int, ttl time.Duration) *ScriptCache {
	sc := &ScriptCache{
		cache: ttlcache.New[scriptCacheKey, struct{}](
			ttlcache.WithTTL[scriptCacheKey, struct{}](ttl),
			ttlcache.WithCapacity[scriptCacheKey, struct{}](uint64(capacity)),
			ttlcache.WithDisableTouchOnHit[scriptCacheKey, struct{}](),
		),
	}

	go sc.cache.Start()

	return sc
}

func (sc *ScriptCache) Contains(key scriptCacheKey) bool {
	return sc.cache.Has(key)
}

func (sc *ScriptCache) Add(key scriptCacheKey) {
	sc.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
}

func (sc *ScriptCache) Len() int {
	return sc.cache.Len()
}

func (sc *ScriptCache) Stop() {
	sc.cache.Stop()
}
