package aggregates

import "chatgraph/domain/core/valueobjects"

// ChainComparison is the structural side of a branch comparison
type ChainComparison struct {
	Left            []valueobjects.MessageID
	Right           []valueobjects.MessageID
	DivergenceIndex int
}

// Identical reports whether both chains are the same path
func (c ChainComparison) Identical() bool {
	return c.DivergenceIndex < 0
}

// CompareChains resolves the ancestor chains of two heads and finds where they part
func CompareChains(g *Graph, leftHead, rightHead valueobjects.MessageID) (ChainComparison, error) {
	left, err := AncestorChain(g, leftHead)
	if err != nil {
		return ChainComparison{}, err
	}
	right, err := AncestorChain(g, rightHead)
	if err != nil {
		return ChainComparison{}, err
	}
	return ChainComparison{
		Left:            left,
		Right:           right,
		DivergenceIndex: DivergenceIndex(left, right),
	}, nil
}

// DivergenceIndex returns the first position at which a and b differ. When one
// is a strict prefix of the other it is the shorter length; identical chains give -1.
func DivergenceIndex(a, b []valueobjects.MessageID) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) == len(b) {
		return -1
	}
	return n
}
