// Package window implements the wraparound sequence-number arithmetic shared
// by the sender and receiver finite state machines. It is the single source
// of truth for "is this sequence number inside the current send/receive
// window" used on both sides of a connection.
package window

// Size is the type used for window sizes, clamped to what fits in the
// 16-bit sequence space.
type Size = uint16

// Within reports whether val lies in the half-open range [base, base+size)
// taken modulo 2^16. It is the same predicate used by the sender to
// validate incoming acks and by the receiver to accept incoming data.
func Within(val, base uint16, size Size) bool {
	if size == 0 {
		// an empty window contains nothing; without this, end == base
		// would fall through to the wrapped branch and accept every val.
		return false
	}
	end := base + uint16(size)
	if base < end {
		return val >= base && val < end
	}
	// wrapped: the window straddles the 0 boundary.
	return val >= base || val < end
}

// Distance returns (val - base) mod 2^16, the number of steps forward from
// base to reach val.
func Distance(val, base uint16) uint16 {
	return val - base
}

// Add returns base+delta with 16-bit wraparound.
func Add(base uint16, delta uint16) uint16 {
	return base + delta
}

// InOrder iterates the half-open window [base, base+size) in ascending
// window order (i.e. starting at base, wrapping through 0 if needed) and
// calls fn for each sequence number. Iteration stops early if fn returns
// false.
func InOrder(base uint16, size Size, fn func(seq uint16) bool) {
	for i := Size(0); i < size; i++ {
		if !fn(base + uint16(i)) {
			return
		}
	}
}

// Range returns the inclusive sequence numbers [from, to] in window order,
// i.e. starting at from and advancing until to is reached (with wraparound).
// If from == to the range contains that single value. The caller is
// responsible for ensuring the range is not longer than the full 16-bit
// space (2^16 elements), which would otherwise be ambiguous.
func Range(from, to uint16) []uint16 {
	n := int(to-from) + 1
	out := make([]uint16, 0, n)
	for v := from; ; v++ {
		out = append(out, v)
		if v == to {
			break
		}
	}
	return out
}
