package systems

import (
	"container/heap"
	"fmt"
)

// FrontierKind selects the priority queue used by the integration solver.
type FrontierKind uint8

const (
	FrontierBucket FrontierKind = iota // Dial's circular bucket queue, O(V) for small costs
	FrontierHeap                       // Binary heap, O(E log V)
)

// ParseFrontier converts a config name to a FrontierKind.
func ParseFrontier(name string) (FrontierKind, error) {
	switch name {
	case "bucket", "":
		return FrontierBucket, nil
	case "heap":
		return FrontierHeap, nil
	}
	return 0, fmt.Errorf("unknown frontier %q", name)
}

func (k FrontierKind) String() string {
	if k == FrontierHeap {
		return "heap"
	}
	return "bucket"
}

// frontier is a min-priority queue of cell indices keyed by integration.
// Entries are never decreased in place; stale entries are skipped on pop.
type frontier interface {
	push(idx int32, key uint32)
	pop() (idx int32, key uint32, ok bool)
}

func newFrontier(kind FrontierKind, maxEdge uint32) frontier {
	if kind == FrontierHeap {
		h := make(frontierHeap, 0, 256)
		return &h
	}
	return newBucketQueue(maxEdge)
}

// bucketQueue is Dial's algorithm: one bucket per key modulo (maxEdge+1).
// Valid because every pushed key lies within maxEdge of the last popped key.
type bucketQueue struct {
	buckets [][]int32
	cursor  uint32
	count   int
}

func newBucketQueue(maxEdge uint32) *bucketQueue {
	return &bucketQueue{buckets: make([][]int32, int(maxEdge)+1)}
}

func (q *bucketQueue) push(idx int32, key uint32) {
	b := key % uint32(len(q.buckets))
	q.buckets[b] = append(q.buckets[b], idx)
	q.count++
}

func (q *bucketQueue) pop() (int32, uint32, bool) {
	n := uint32(len(q.buckets))
	for q.count > 0 {
		b := &q.buckets[q.cursor%n]
		if last := len(*b) - 1; last >= 0 {
			idx := (*b)[last]
			*b = (*b)[:last]
			q.count--
			return idx, q.cursor, true
		}
		q.cursor++
	}
	return 0, 0, false
}

type frontierItem struct {
	idx int32
	key uint32
}

// frontierHeap implements heap.Interface ordered by key.
type frontierHeap []frontierItem

func (h frontierHeap) Len() int           { return len(h) }
func (h frontierHeap) Less(i, j int) bool { return h[i].key < h[j].key }
func (h frontierHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *frontierHeap) Push(x any) { *h = append(*h, x.(frontierItem)) }

func (h *frontierHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h *frontierHeap) push(idx int32, key uint32) {
	heap.Push(h, frontierItem{idx: idx, key: key})
}

func (h *frontierHeap) pop() (int32, uint32, bool) {
	if h.Len() == 0 {
		return 0, 0, false
	}
	item := heap.Pop(h).(frontierItem)
	return item.idx, item.key, true
}
