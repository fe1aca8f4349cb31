package cache

import (
	"container/list"
	"time"
)

// entry is one cached block.
type entry struct {
	base      uintptr       // Block start (header included)
	capacity  int           // Block size including header
	class     int           // Size class (which heap this belongs to)
	freedAt   time.Time     // When the block entered the cache
	heapIndex int           // Position in heap (for heap.Remove)
	age       *list.Element // Position in the age list
}

// blockHeap implements heap.Interface as a min-heap keyed on capacity.
// Smallest blocks are at the top, giving best-fit within a class.
type blockHeap []*entry

func (h *blockHeap) Len() int { return len(*h) }

func (h *blockHeap) Less(i, j int) bool {
	return (*h)[i].capacity < (*h)[j].capacity
}

func (h *blockHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
	(*h)[i].heapIndex = i
	(*h)[j].heapIndex = j
}

func (h *blockHeap) Push(x any) {
	e := x.(*entry) //nolint:errcheck // heap.Interface contract guarantees type
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *blockHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[0 : n-1]
	return e
}
