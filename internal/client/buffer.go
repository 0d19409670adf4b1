package client

// minAlloc is the smallest payload buffer the engine will allocate
// regardless of a small requested bufLen.
const minAlloc = 64

// newPayload allocates a buffer of size max(bufLen, minAlloc) and fills it
// with a deterministic pattern, reproducible across runs. Each byte is the
// low byte of a multiplicative hash of its index, (177*i+1) mod 256, so the
// pattern repeats every 256 bytes.
func newPayload(bufLen int) []byte {
	n := bufLen
	if n < minAlloc {
		n = minAlloc
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*2654435761 + 1) // Knuth multiplicative hash byte stream
	}
	return buf
}
