package binary

import "math/bits"

// Lookup3 computes Bob Jenkins' hashlittle (lookup3) with a zero seed.
// It protects the superblock and the dataset directory.
func Lookup3(data []byte) uint32 {
	seed := 0xdeadbeef + uint32(len(data))
	a, b, c := seed, seed, seed

	// Blocks of 12 are mixed only while more than 12 bytes remain; the
	// last 1-12 bytes always go through the final mix.
	for len(data) > 12 {
		a += order.Uint32(data[0:])
		b += order.Uint32(data[4:])
		c += order.Uint32(data[8:])
		a, b, c = mix(a, b, c)
		data = data[12:]
	}
	if len(data) == 0 {
		return c
	}

	var tail [12]byte
	copy(tail[:], data)
	a += order.Uint32(tail[0:])
	b += order.Uint32(tail[4:])
	c += order.Uint32(tail[8:])
	_, _, c = final(a, b, c)
	return c
}

func mix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= bits.RotateLeft32(c, 4)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 6)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 8)
	b += a
	a -= c
	a ^= bits.RotateLeft32(c, 16)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 19)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 4)
	b += a
	return a, b, c
}

func final(a, b, c uint32) (uint32, uint32, uint32) {
	c ^= b
	c -= bits.RotateLeft32(b, 14)
	a ^= c
	a -= bits.RotateLeft32(c, 11)
	b ^= a
	b -= bits.RotateLeft32(a, 25)
	c ^= b
	c -= bits.RotateLeft32(b, 16)
	a ^= c
	a -= bits.RotateLeft32(c, 4)
	b ^= a
	b -= bits.RotateLeft32(a, 14)
	c ^= b
	c -= bits.RotateLeft32(b, 24)
	return a, b, c
}

// Fletcher32 computes the Fletcher-32 sum over little-endian 16-bit words.
// An odd trailing byte is treated as a word with a zero high byte.
func Fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32
	for len(data) >= 2 {
		sum1 = (sum1 + uint32(order.Uint16(data))) % 65535
		sum2 = (sum2 + sum1) % 65535
		data = data[2:]
	}
	if len(data) == 1 {
		sum1 = (sum1 + uint32(data[0])) % 65535
		sum2 = (sum2 + sum1) % 65535
	}
	return sum2<<16 | sum1
}
