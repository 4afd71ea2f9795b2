package transport

import "sync"

// PacketQueue is an unbounded multi-producer/single-consumer FIFO of sensor
// packets. Producers (the ingestion path) only append; the consumer (the
// orchestrator) only removes from the front. Insertion order is arrival
// order and elements are never mutated after insertion.
type PacketQueue struct {
	mu    sync.Mutex
	items []Packet
}

// NewPacketQueue returns an empty queue.
func NewPacketQueue() *PacketQueue {
	return &PacketQueue{}
}

// Push appends a packet to the back of the queue.
func (q *PacketQueue) Push(p Packet) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
}

// Pop removes and returns the front packet. ok is false when the queue is
// empty.
func (q *PacketQueue) Pop() (p Packet, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Packet{}, false
	}
	p = q.items[0]
	q.items = q.items[1:]
	return p, true
}

// Len reports the number of queued packets.
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
