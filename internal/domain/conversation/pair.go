package conversation

// Pair is an unordered participant pair in canonical form (A < B by ordinal comparison).
type Pair struct {
	A string
	B string
}

// CanonicalPair orders two user ids so that either argument order yields the same Pair.
// Ids are compared as raw byte strings; mixing id schemes that sort differently
// (for example upper and lower case UUIDs) would break the at-most-one invariant.
func CanonicalPair(userA, userB string) Pair {
	if userB < userA {
		return Pair{A: userB, B: userA}
	}
	return Pair{A: userA, B: userB}
}

// Key is a stable string form of the pair.
func (p Pair) Key() string {
	return p.A + "|" + p.B
}
