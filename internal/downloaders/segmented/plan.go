package segmented

import (
	"fmt"
)

// Plan splits totalSize bytes into parts contiguous ranges, 1-indexed. Every
// range has totalSize/parts bytes except the last, which absorbs the
// remainder.
func Plan(totalSize int64, parts int) ([]Segment, error) {
	if totalSize <= 0 {
		return nil, fmt.Errorf("%w: total size %d", ErrInvalidPlan, totalSize)
	}
	if parts < 1 {
		return nil, fmt.Errorf("%w: part count %d", ErrInvalidPlan, parts)
	}
	if int64(parts) > totalSize {
		return nil, fmt.Errorf("%w: %d parts for %d bytes", ErrInvalidPlan, parts, totalSize)
	}
	base := totalSize / int64(parts)
	segments := make([]Segment, parts)
	for i := 0; i < parts; i++ {
		start := int64(i) * base
		end := start + base - 1
		if i == parts-1 {
			end = totalSize - 1
		}
		segments[i] = Segment{Index: i + 1, Start: start, End: end}
	}
	return segments, nil
}
