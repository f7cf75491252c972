package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrReassembly reports a fragment set that cannot be joined back into the
// original payload: a missing, duplicate, or out-of-range index.
var ErrReassembly = errors.New("chunker: cannot reassemble fragments")

// Fragment is one ordered piece of an encoded payload as it comes back
// from the chunk store.
type Fragment struct {
	Index int
	Data  string
}

// Split slices an encoded payload into fragments of at most
// maxFragmentSize characters. Every fragment is full except possibly the
// last, which holds the remainder; an input whose length divides evenly
// produces no trailing empty fragment. An empty input yields zero
// fragments, the mutual inverse of Join over an empty set.
func Split(encoded string, maxFragmentSize int) ([]string, error) {
	if maxFragmentSize <= 0 {
		return nil, fmt.Errorf("chunker: fragment size must be positive, got %d", maxFragmentSize)
	}
	if encoded == "" {
		return nil, nil
	}
	fragments := make([]string, 0, (len(encoded)+maxFragmentSize-1)/maxFragmentSize)
	for start := 0; start < len(encoded); start += maxFragmentSize {
		end := start + maxFragmentSize
		if end > len(encoded) {
			end = len(encoded)
		}
		fragments = append(fragments, encoded[start:end])
	}
	return fragments, nil
}

// Join concatenates fragments in ascending index order. Every index in
// [0, total) must appear exactly once; physical arrival order does not
// matter.
func Join(fragments []Fragment, total int) (string, error) {
	if total < 0 {
		return "", fmt.Errorf("%w: negative fragment count %d", ErrReassembly, total)
	}
	if len(fragments) != total {
		return "", fmt.Errorf("%w: have %d fragments, want %d", ErrReassembly, len(fragments), total)
	}
	ordered := make([]string, total)
	seen := make([]bool, total)
	size := 0
	for _, frag := range fragments {
		if frag.Index < 0 || frag.Index >= total {
			return "", fmt.Errorf("%w: index %d outside [0,%d)", ErrReassembly, frag.Index, total)
		}
		if seen[frag.Index] {
			return "", fmt.Errorf("%w: duplicate index %d", ErrReassembly, frag.Index)
		}
		seen[frag.Index] = true
		ordered[frag.Index] = frag.Data
		size += len(frag.Data)
	}
	var b strings.Builder
	b.Grow(size)
	for _, data := range ordered {
		b.WriteString(data)
	}
	return b.String(), nil
}
