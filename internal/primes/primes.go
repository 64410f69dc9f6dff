// Package primes provides a fixed table of small primes used to size chunk
// cache hash tables.
//
// The table holds every prime below 100000. Lookups beyond it return 0
// instead of falling back to a primality test, so callers can tell when the
// table is exhausted and pick their own fallback.
package primes

import (
	"sort"
	"sync"
)

// Limit is the exclusive upper bound of the table.
const Limit = 100000

var (
	once  sync.Once
	table []uint32
)

func primes() []uint32 {
	once.Do(func() {
		composite := make([]bool, Limit)
		table = make([]uint32, 0, 9592)
		for n := 2; n < Limit; n++ {
			if composite[n] {
				continue
			}
			table = append(table, uint32(n))
			for m := n * n; m < Limit; m += n {
				composite[m] = true
			}
		}
	})
	return table
}

// Len returns the number of tabulated primes.
func Len() int { return len(primes()) }

// Largest returns the largest tabulated prime.
func Largest() uint32 {
	t := primes()
	return t[len(t)-1]
}

// NthPrime returns the i-th prime, counting 2 as index 0, or 0 if i is
// outside the table.
func NthPrime(i int) uint32 {
	t := primes()
	if i < 0 || i >= len(t) {
		return 0
	}
	return t[i]
}

// NextPrimeAtLeast returns the smallest tabulated prime >= v, or 0 if v is
// larger than every tabulated prime.
func NextPrimeAtLeast(v uint32) uint32 {
	t := primes()
	i := sort.Search(len(t), func(i int) bool { return t[i] >= v })
	if i == len(t) {
		return 0
	}
	return t[i]
}

// NextPrimeAfter returns the smallest tabulated prime > v, or 0 if there is
// none.
func NextPrimeAfter(v uint32) uint32 {
	if v == ^uint32(0) {
		return 0
	}
	return NextPrimeAtLeast(v + 1)
}
