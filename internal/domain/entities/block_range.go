package entities

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// BlockRange represents an inclusive range of block heights
type BlockRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// NewBlockRange creates a block range, validating from <= to
func NewBlockRange(from, to uint64) (BlockRange, error) {
	if from > to {
		return BlockRange{}, fmt.Errorf("invalid block range: from %d > to %d", from, to)
	}
	return BlockRange{From: from, To: to}, nil
}

// Blocks returns the number of blocks covered by the range
func (r BlockRange) Blocks() uint64 {
	return r.To - r.From + 1
}

// Contains reports whether block n falls inside the range
func (r BlockRange) Contains(n uint64) bool {
	return n >= r.From && n <= r.To
}

// String formats the range as "from-to"
func (r BlockRange) String() string {
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// Split partitions the range into chunks of at most maxSize blocks.
// A maxSize of 0 means unlimited and yields the range unchanged.
func (r BlockRange) Split(maxSize uint64) []BlockRange {
	if maxSize == 0 || r.Blocks() <= maxSize {
		return []BlockRange{r}
	}

	chunks := make([]BlockRange, 0, r.Blocks()/maxSize+1)
	for current := r.From; current <= r.To; {
		end := current + maxSize - 1
		if end > r.To || end < current { // overflow guard
			end = r.To
		}
		chunks = append(chunks, BlockRange{From: current, To: end})
		if end == r.To {
			break
		}
		current = end + 1
	}

	return chunks
}

// BlockNumber is a block height that may be the symbolic "latest" marker.
// Symbolic markers must be resolved to literal heights before partitioning.
type BlockNumber struct {
	value  uint64
	latest bool
}

// NewBlockNumber creates a literal block number
func NewBlockNumber(n uint64) BlockNumber {
	return BlockNumber{value: n}
}

// LatestBlockNumber creates the symbolic "latest" marker
func LatestBlockNumber() BlockNumber {
	return BlockNumber{latest: true}
}

// ParseBlockNumber parses a decimal height or the literal string "latest"
func ParseBlockNumber(s string) (BlockNumber, error) {
	if strings.EqualFold(strings.TrimSpace(s), "latest") {
		return LatestBlockNumber(), nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return BlockNumber{}, fmt.Errorf("invalid block number %q: %w", s, err)
	}
	return NewBlockNumber(n), nil
}

// IsLatest reports whether this is the symbolic marker
func (b BlockNumber) IsLatest() bool {
	return b.latest
}

// Value returns the literal height. Only valid when IsLatest is false.
func (b BlockNumber) Value() uint64 {
	return b.value
}

func (b BlockNumber) String() string {
	if b.latest {
		return "latest"
	}
	return strconv.FormatUint(b.value, 10)
}

// RangeSet is a sorted list of disjoint block ranges. Adjacent and
// overlapping ranges are merged on insert, keeping the representation
// compact for checkpoint storage.
type RangeSet struct {
	ranges []BlockRange
}

// NewRangeSet creates a range set from the given ranges, normalizing them
func NewRangeSet(ranges ...BlockRange) *RangeSet {
	s := &RangeSet{}
	for _, r := range ranges {
		s.Add(r)
	}
	return s
}

// Add inserts a range, merging it with any adjacent or overlapping entries
func (s *RangeSet) Add(r BlockRange) {
	s.ranges = append(s.ranges, r)
	if len(s.ranges) < 2 {
		return
	}

	sort.Slice(s.ranges, func(i, j int) bool {
		return s.ranges[i].From < s.ranges[j].From
	})

	merged := s.ranges[:1]
	for _, next := range s.ranges[1:] {
		last := &merged[len(merged)-1]
		if next.From <= last.To || (last.To < ^uint64(0) && next.From == last.To+1) {
			if next.To > last.To {
				last.To = next.To
			}
		} else {
			merged = append(merged, next)
		}
	}
	s.ranges = merged
}

// Ranges returns the sorted disjoint ranges
func (s *RangeSet) Ranges() []BlockRange {
	out := make([]BlockRange, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Blocks returns the total number of blocks covered by the set
func (s *RangeSet) Blocks() uint64 {
	var total uint64
	for _, r := range s.ranges {
		total += r.Blocks()
	}
	return total
}

// Covers reports whether the set fully covers the given range
func (s *RangeSet) Covers(full BlockRange) bool {
	return len(s.Residual(full)) == 0
}

// Residual returns the portions of full not covered by the set,
// sorted ascending. An empty result means full coverage.
func (s *RangeSet) Residual(full BlockRange) []BlockRange {
	var residual []BlockRange
	cursor := full.From

	for _, r := range s.ranges {
		if r.To < full.From || r.From > full.To {
			continue
		}
		if cursor < r.From {
			residual = append(residual, BlockRange{From: cursor, To: r.From - 1})
		}
		if r.To >= cursor {
			if r.To == ^uint64(0) {
				return residual
			}
			cursor = r.To + 1
		}
		if cursor > full.To {
			return residual
		}
	}

	if cursor <= full.To {
		residual = append(residual, BlockRange{From: cursor, To: full.To})
	}

	return residual
}
