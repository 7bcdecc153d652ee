package encoding

import "github.com/pkg/errors"

// TruncateLengths returns the lengths a pair of sequences of lengths lenA and lenB is cut to, so that
// their sum is at most maxLength.
//
// One element at a time is removed from the end of the longer sequence, the first one on ties.
func TruncateLengths(maxLength, lenA, lenB int) (int, int, error) {
	if maxLength < 0 {
		return 0, 0, errors.Errorf("can't truncate to a negative total length %d", maxLength)
	}
	for lenA+lenB > maxLength {
		if lenA >= lenB {
			lenA--
		} else {
			lenB--
		}
	}
	return lenA, lenB, nil
}

// TruncatePair cuts a and b (b may be nil) in place, see TruncateLengths, and returns the re-sliced sequences.
func TruncatePair[T any](maxLength int, a, b []T) ([]T, []T, error) {
	lenA, lenB, err := TruncateLengths(maxLength, len(a), len(b))
	if err != nil {
		return a, b, err
	}
	if b == nil {
		return a[:lenA], nil, nil
	}
	return a[:lenA], b[:lenB], nil
}
