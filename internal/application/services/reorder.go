package services

import (
	"container/heap"

	"github.com/bimakw/log-harvester/internal/domain/entities"
)

// chunkResult is the outcome of fetching one chunk. Failed chunks carry
// their error so the collector can settle the cursor past them without
// emitting anything.
type chunkResult struct {
	index   int
	chunk   entities.BlockRange
	records []entities.LogRecord
	err     error
}

type resultHeap []chunkResult

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[i].index < h[j].index }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(chunkResult)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// reorderBuffer restores chunk order for results that complete out of
// order. Results park in a min-heap until the next expected chunk index
// arrives, then flush as a contiguous run.
type reorderBuffer struct {
	pending      resultHeap
	nextExpected int
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{}
}

// Offer adds a result and returns every result that is now flushable in
// chunk order. Results ahead of the cursor stay parked.
func (b *reorderBuffer) Offer(r chunkResult) []chunkResult {
	heap.Push(&b.pending, r)

	var ready []chunkResult
	for b.pending.Len() > 0 && b.pending[0].index == b.nextExpected {
		ready = append(ready, heap.Pop(&b.pending).(chunkResult))
		b.nextExpected++
	}
	return ready
}

// Parked returns how many results are waiting on earlier chunks
func (b *reorderBuffer) Parked() int {
	return b.pending.Len()
}
