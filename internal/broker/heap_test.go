package broker

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvelopeHeapOrdersByDueAt(t *testing.T) {
	now := time.Now()
	h := &envelopeHeap{}
	heap.Init(h)
	heap.Push(h, envelope{payload: []byte("c"), dueAt: now.Add(30 * time.Millisecond)})
	heap.Push(h, envelope{payload: []byte("a"), dueAt: now.Add(10 * time.Millisecond)})
	heap.Push(h, envelope{payload: []byte("b"), dueAt: now.Add(20 * time.Millisecond)})

	var order []string
	for h.Len() > 0 {
		e := heap.Pop(h).(envelope)
		order = append(order, string(e.payload))
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
