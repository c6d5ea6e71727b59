// Package sim runs the discrete-event loop around the exchange core: a
// priority queue of timestamped messages, the single-threaded simulation
// that drains it, local trader agents, and the manager that runs blocks
// of simulations in parallel.
package sim

import (
	"container/heap"

	"github.com/quarzvale/marketsim/pkg/message"
)

// queueItem pairs a message with its arrival order for FIFO tie-breaks.
type queueItem struct {
	msg *message.Message
	seq uint64
}

type messageHeap []queueItem

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	if h[i].msg.Arrival != h[j].msg.Arrival {
		return h[i].msg.Arrival < h[j].msg.Arrival
	}
	return h[i].seq < h[j].seq
}

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MessageQueue delivers messages in monotone non-decreasing arrival
// order; messages with equal arrival leave in the order they were
// enqueued.
type MessageQueue struct {
	heap messageHeap
	seq  uint64
}

// NewMessageQueue creates an empty queue.
func NewMessageQueue() *MessageQueue {
	q := &MessageQueue{}
	heap.Init(&q.heap)
	return q
}

// Push enqueues a message.
func (q *MessageQueue) Push(msg *message.Message) {
	heap.Push(&q.heap, queueItem{msg: msg, seq: q.seq})
	q.seq++
}

// Pop removes and returns the earliest message.
func (q *MessageQueue) Pop() (*message.Message, bool) {
	if q.heap.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&q.heap).(queueItem)
	return item.msg, true
}

// Peek returns the earliest message without removing it.
func (q *MessageQueue) Peek() (*message.Message, bool) {
	if q.heap.Len() == 0 {
		return nil, false
	}
	return q.heap[0].msg, true
}

// Len returns the number of queued messages.
func (q *MessageQueue) Len() int { return q.heap.Len() }
