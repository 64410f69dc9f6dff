package primes

import (
	"math"
	"testing"
)

func TestTableShape(t *testing.T) {
	if Len() != 9592 {
		t.Errorf("Len() = %d, want 9592", Len())
	}
	if Largest() != 99991 {
		t.Errorf("Largest() = %d, want 99991", Largest())
	}
}

func TestNthPrime(t *testing.T) {
	tests := []struct {
		index int
		want  uint32
	}{
		{0, 2},
		{1, 3},
		{17, 61},
		{420, 2909},
		{8008, 81919},
		{9591, 99991},
		{-1, 0},
		{9592, 0},
		{math.MaxInt32, 0},
	}
	for _, tt := range tests {
		if got := NthPrime(tt.index); got != tt.want {
			t.Errorf("NthPrime(%d) = %d, want %d", tt.index, got, tt.want)
		}
	}
}

func TestNextPrimeAtLeast(t *testing.T) {
	tests := []struct {
		v    uint32
		want uint32
	}{
		{0, 2},
		{1, 2},
		{2, 2},
		{4, 5},
		{12420, 12421},
		{99990, 99991},
		{99991, 99991},
		{99992, 0},
		{math.MaxUint32, 0},
	}
	for _, tt := range tests {
		if got := NextPrimeAtLeast(tt.v); got != tt.want {
			t.Errorf("NextPrimeAtLeast(%d) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestNextPrimeAfter(t *testing.T) {
	tests := []struct {
		v    uint32
		want uint32
	}{
		{0, 2},
		{2, 3},
		{99989, 99991},
		{99991, 0},
		{math.MaxUint32, 0},
	}
	for _, tt := range tests {
		if got := NextPrimeAfter(tt.v); got != tt.want {
			t.Errorf("NextPrimeAfter(%d) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestTableIsPrimeAndOrdered(t *testing.T) {
	for i := 0; i < Len(); i++ {
		p := NthPrime(i)
		if i > 0 && p <= NthPrime(i-1) {
			t.Fatalf("table not increasing at %d", i)
		}
		for d := uint32(2); d*d <= p; d++ {
			if p%d == 0 {
				t.Fatalf("NthPrime(%d) = %d is divisible by %d", i, p, d)
			}
		}
	}
}
