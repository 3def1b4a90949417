// Package priceindex maps discretized price slots to "has a live queue".
//
// The index is a run of 256-bit words, each held as four uint64 limbs. Next
// scans limb-at-a-time, skips whole empty words, and finds the bit inside a
// non-zero limb with a single bit scan.
package priceindex

import (
	"math/bits"

	"hybridbook/domain/market"
	"hybridbook/domain/txn"
)

const limbsPerWord = market.BitsPerWord / 64

type word [limbsPerWord]uint64

// Index is single-writer.
type Index struct {
	words   []word
	journal *txn.Journal
}

// New returns an index addressing words*256 slots.
func New(words int, j *txn.Journal) *Index {
	return &Index{
		words:   make([]word, words),
		journal: j,
	}
}

// Capacity is the number of addressable slots.
func (ix *Index) Capacity() int {
	return len(ix.words) * market.BitsPerWord
}

func (ix *Index) limb(i int) uint64 {
	return ix.words[i/limbsPerWord][i%limbsPerWord]
}

func (ix *Index) limbPtr(s market.Slot) (*uint64, uint64) {
	i := int(s) / 64
	return &ix.words[i/limbsPerWord][i%limbsPerWord], uint64(1) << (s % 64)
}

func (ix *Index) wordEmpty(w int) bool {
	return ix.words[w] == word{}
}

// IsSet reports whether slot is marked active.
func (ix *Index) IsSet(s market.Slot) bool {
	l, bit := ix.limbPtr(s)
	return *l&bit != 0
}

// Set marks slot active.
func (ix *Index) Set(s market.Slot) {
	l, bit := ix.limbPtr(s)
	if *l&bit != 0 {
		return
	}
	*l |= bit
	ix.journal.Record(func() { *l &^= bit })
}

// Clear marks slot inactive.
func (ix *Index) Clear(s market.Slot) {
	l, bit := ix.limbPtr(s)
	if *l&bit == 0 {
		return
	}
	*l &^= bit
	ix.journal.Record(func() { *l |= bit })
}

// Next returns the nearest active slot at or after from, moving in dir, that
// does not pass bound. Slots beyond the index capacity are treated as empty.
func (ix *Index) Next(from market.Slot, dir market.Direction, bound market.Slot) (market.Slot, bool) {
	if ix.Capacity() == 0 {
		return 0, false
	}
	limit := market.Slot(ix.Capacity() - 1)
	if dir == market.Up {
		if from > bound || from > limit {
			return 0, false
		}
		return ix.nextUp(from, min(bound, limit))
	}
	if from < bound || bound > limit {
		return 0, false
	}
	return ix.nextDown(min(from, limit), bound)
}

func (ix *Index) nextUp(from, bound market.Slot) (market.Slot, bool) {
	i, last := int(from/64), int(bound/64)
	mask := ^uint64(0) << (from % 64)
	for i <= last {
		if b := ix.limb(i) & mask; b != 0 {
			s := market.Slot(i*64 + bits.TrailingZeros64(b))
			if s > bound {
				return 0, false
			}
			return s, true
		}
		i++
		mask = ^uint64(0)
		for i%limbsPerWord == 0 && i <= last && ix.wordEmpty(i/limbsPerWord) {
			i += limbsPerWord
		}
	}
	return 0, false
}

func (ix *Index) nextDown(from, bound market.Slot) (market.Slot, bool) {
	i, last := int(from/64), int(bound/64)
	mask := ^uint64(0) >> (63 - from%64)
	for i >= last {
		if b := ix.limb(i) & mask; b != 0 {
			s := market.Slot(i*64 + 63 - bits.LeadingZeros64(b))
			if s < bound {
				return 0, false
			}
			return s, true
		}
		i--
		mask = ^uint64(0)
		for i >= last && i%limbsPerWord == limbsPerWord-1 && ix.wordEmpty(i/limbsPerWord) {
			i -= limbsPerWord
		}
	}
	return 0, false
}

// Slots lists the active slots in ascending order.
func (ix *Index) Slots() []market.Slot {
	var out []market.Slot
	for i := 0; i < len(ix.words)*limbsPerWord; i++ {
		b := ix.limb(i)
		for b != 0 {
			tz := bits.TrailingZeros64(b)
			out = append(out, market.Slot(i*64+tz))
			b &= b - 1
		}
	}
	return out
}

// Reset clears every slot without journaling.
func (ix *Index) Reset() {
	clear(ix.words)
}
