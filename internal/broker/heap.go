package broker

import "time"

// envelope is the broker's in-process wrapper around a forwarded
// datagram, ordered by the scheduled send time.
type envelope struct {
	payload []byte
	dueAt   time.Time
}

// envelopeHeap is a min-heap of envelopes ordered by dueAt, implementing
// container/heap.Interface.
type envelopeHeap []envelope

func (h envelopeHeap) Len() int            { return len(h) }
func (h envelopeHeap) Less(i, j int) bool  { return h[i].dueAt.Before(h[j].dueAt) }
func (h envelopeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }

func (h *envelopeHeap) Push(x any) {
	*h = append(*h, x.(envelope))
}

func (h *envelopeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
