package service

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/punchamoorthee/flightsurety/internal/domain"
)

// byteLimit is the largest multiple of IndexSpace that fits in a byte; bytes at
// or above it are rejected so every index is equally likely.
const byteLimit = 256 - 256%domain.IndexSpace

// Indexer draws oracle indices from a stream keyed by the configured entropy,
// the caller and a ledger-wide nonce. The same inputs always yield the same indices.
type Indexer struct {
	entropy []byte
}

func NewIndexer(entropy []byte) Indexer {
	return Indexer{entropy: append([]byte(nil), entropy...)}
}

// Draw returns n indices in [0, IndexSpace). When distinct is set no index repeats.
func (g Indexer) Draw(who domain.Address, nonce uint64, n int, distinct bool) []uint8 {
	if distinct && n > domain.IndexSpace {
		n = domain.IndexSpace
	}
	out := make([]uint8, 0, n)
	for block := uint64(0); len(out) < n; block++ {
		for _, b := range g.block(who, nonce, block) {
			if int(b) >= byteLimit {
				continue
			}
			idx := b % domain.IndexSpace
			if distinct && containsIndex(out, idx) {
				continue
			}
			out = append(out, idx)
			if len(out) == n {
				break
			}
		}
	}
	return out
}

func (g Indexer) block(who domain.Address, nonce, block uint64) [sha256.Size]byte {
	buf := make([]byte, 0, len(g.entropy)+len(who)+24)
	buf = append(buf, g.entropy...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(who)))
	buf = append(buf, who...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	buf = binary.BigEndian.AppendUint64(buf, block)
	return sha256.Sum256(buf)
}

func containsIndex(set []uint8, idx uint8) bool {
	for _, v := range set {
		if v == idx {
			return true
		}
	}
	return false
}
