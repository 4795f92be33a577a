package systems

import "container/heap"

// Scheduler is a fire-at-tick event queue drained once per tick.
// Events due on the same tick fire in the order they were scheduled.
type Scheduler[T any] struct {
	queue eventHeap[T]
	seq   uint64
}

// Scheduled is a queued event.
type Scheduled[T any] struct {
	Tick    int64
	Payload T
	seq     uint64
}

// At schedules payload to fire on tick.
func (s *Scheduler[T]) At(tick int64, payload T) {
	s.seq++
	heap.Push(&s.queue, Scheduled[T]{Tick: tick, Payload: payload, seq: s.seq})
}

// After schedules payload to fire delay ticks after now.
func (s *Scheduler[T]) After(now, delay int64, payload T) {
	s.At(now+max(delay, 0), payload)
}

// Due removes every event with Tick <= now and appends it to dst in firing order.
func (s *Scheduler[T]) Due(now int64, dst []Scheduled[T]) []Scheduled[T] {
	for s.queue.Len() > 0 && s.queue[0].Tick <= now {
		dst = append(dst, heap.Pop(&s.queue).(Scheduled[T]))
	}
	return dst
}

// Cancel drops every pending event whose payload matches and returns how many were dropped.
func (s *Scheduler[T]) Cancel(match func(T) bool) int {
	kept := s.queue[:0]
	dropped := 0
	for _, ev := range s.queue {
		if match(ev.Payload) {
			dropped++
			continue
		}
		kept = append(kept, ev)
	}
	s.queue = kept
	heap.Init(&s.queue)
	return dropped
}

// Len returns the number of pending events.
func (s *Scheduler[T]) Len() int { return s.queue.Len() }

// eventHeap implements heap.Interface ordered by (Tick, seq).
type eventHeap[T any] []Scheduled[T]

func (h eventHeap[T]) Len() int { return len(h) }
func (h eventHeap[T]) Less(i, j int) bool {
	if h[i].Tick != h[j].Tick {
		return h[i].Tick < h[j].Tick
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap[T]) Push(x any) { *h = append(*h, x.(Scheduled[T])) }

func (h *eventHeap[T]) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}
