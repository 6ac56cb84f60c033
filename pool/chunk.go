// Package pool holds the reusable buffers behind the parallel sort: fixed
// capacity chunks of (key, record) slots, blocking chunk queues used as free
// and filled pools, and a bounded work pool with producer back-pressure.
// Together these cap live records at chunkSize x workers.
package pool

import (
	"bytes"
	"sort"

	"github.com/grailbio/hts/sam"
)

// Slot owns one record and its sort key while they sit in a chunk. The key
// buffer is allocated once at chunk creation and reused across passes.
type Slot struct {
	Key []byte
	Rec *sam.Record
}

// Chunk is a fixed-capacity array of slots. A chunk is held by exactly one
// goroutine at a time; hand-offs go through ChunkQueue.
type Chunk struct {
	slots []Slot
	n     int
}

// NewChunk allocates a chunk of the given capacity with keySize-cap key
// buffers.
func NewChunk(capacity, keySize int) *Chunk {
	c := &Chunk{slots: make([]Slot, capacity)}
	for i := range c.slots {
		c.slots[i].Key = make([]byte, 0, keySize)
	}
	return c
}

// Cap returns the slot capacity.
func (c *Chunk) Cap() int { return len(c.slots) }

// Len returns the populated slot count.
func (c *Chunk) Len() int { return c.n }

// NextSlot returns the next unpopulated slot with its key buffer reset.
// The caller fills it and then calls Commit. Returns nil when full.
func (c *Chunk) NextSlot() *Slot {
	if c.n == len(c.slots) {
		return nil
	}
	s := &c.slots[c.n]
	s.Key = s.Key[:0]
	s.Rec = nil
	return s
}

// Commit marks the slot returned by NextSlot as populated.
func (c *Chunk) Commit() { c.n++ }

// Slots returns the populated slots.
func (c *Chunk) Slots() []Slot { return c.slots[:c.n] }

// Sort orders the populated slots by byte-wise key comparison.
func (c *Chunk) Sort() {
	s := c.slots[:c.n]
	sort.Slice(s, func(i, j int) bool { return bytes.Compare(s[i].Key, s[j].Key) < 0 })
}

// Recycle returns every populated record to the sam free pool and empties
// the chunk so it can be filled again.
func (c *Chunk) Recycle() {
	for i := 0; i < c.n; i++ {
		if c.slots[i].Rec != nil {
			sam.PutInFreePool(c.slots[i].Rec)
			c.slots[i].Rec = nil
		}
	}
	c.n = 0
}
