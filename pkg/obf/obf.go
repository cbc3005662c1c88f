// Package obf hashes library and symbol names for lookup without keeping the
// plain name around. Hashes are case-insensitive and stable across runs.
package obf

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Seed is the initial hash state.
const Seed uint32 = 2166136261

const prime uint32 = 16777619

var logger = zap.NewNop()

// SetLogger sets the logger used to report collisions.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// CustomHash folds ASCII letters to upper case and skips NUL bytes, so a
// name hashes the same whether it came from an ANSI or a wide string.
func CustomHash(buffer []byte) uint32 {
	h := Seed
	for _, b := range buffer {
		if b == 0 {
			continue
		}
		if b >= 'a' && b <= 'z' {
			b -= 0x20
		}
		h = (h ^ uint32(b)) * prime
	}
	return h
}

var (
	hashCache         = make(map[string]uint32)
	collisionDetector = make(map[uint32]string)
	cacheMu           sync.RWMutex
)

// GetHash returns the cached hash of s, computing and recording it on first use.
func GetHash(s string) uint32 {
	cacheMu.RLock()
	if hash, ok := hashCache[s]; ok {
		cacheMu.RUnlock()
		return hash
	}
	cacheMu.RUnlock()

	hash := CustomHash([]byte(s))

	cacheMu.Lock()
	hashCache[s] = hash
	detectHashCollision(hash, s)
	cacheMu.Unlock()

	return hash
}

// detectHashCollision must be called with cacheMu held.
func detectHashCollision(hash uint32, s string) {
	existing, ok := collisionDetector[hash]
	if !ok {
		collisionDetector[hash] = s
		return
	}
	if !strings.EqualFold(existing, s) {
		logger.Warn("hash collision",
			zap.Uint32("hash", hash),
			zap.String("existing", existing),
			zap.String("new", s))
	}
}

// Stats describes the hash cache.
type Stats struct {
	Entries      int
	UniqueHashes int
}

func GetHashCacheStats() Stats {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	return Stats{Entries: len(hashCache), UniqueHashes: len(collisionDetector)}
}

func ClearHashCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	hashCache = make(map[string]uint32)
	collisionDetector = make(map[uint32]string)
}
