// Package filter provides a fixed-width approximate membership filter over
// 64-bit keys. Every sorted table keeps one to skip binary searches for keys
// it cannot contain.
package filter

import "github.com/bits-and-blooms/bitset"

// Bits is the width of the bit array backing every filter.
const Bits = 10000

// Filter answers approximate membership queries for uint64 keys.
// A negative answer is authoritative; a positive one may be a false positive.
type Filter struct {
	bits *bitset.BitSet
}

func New() *Filter {
	return &Filter{bits: bitset.New(Bits)}
}

func hash1(x uint64) uint64 {
	return x
}

func hash2(x uint64) uint64 {
	return x ^ (x<<16 ^ x<<32 ^ x<<48 ^ x>>16 ^ x>>32 ^ x>>48)
}

func hash3(x uint64) uint64 {
	return x ^ (x<<8 ^ x<<24 ^ x<<40 ^ x>>8 ^ x>>24 ^ x>>40)
}

// Insert adds key to the set.
func (f *Filter) Insert(key uint64) {
	f.bits.Set(uint(hash1(key) % Bits))
	f.bits.Set(uint(hash2(key) % Bits))
	f.bits.Set(uint(hash3(key) % Bits))
}

// MayContain reports whether key could be in the set.
func (f *Filter) MayContain(key uint64) bool {
	return f.bits.Test(uint(hash1(key)%Bits)) &&
		f.bits.Test(uint(hash2(key)%Bits)) &&
		f.bits.Test(uint(hash3(key)%Bits))
}

// Reset clears the set.
func (f *Filter) Reset() {
	f.bits.ClearAll()
}
