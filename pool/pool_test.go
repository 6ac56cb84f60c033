package pool

import (
	"sync/atomic"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
)

func TestChunkFillAndSort(t *testing.T) {
	c := NewChunk(4, 16)
	assert.EQ(t, c.Cap(), 4)
	for _, key := range []string{"ccc", "aaa", "bbb"} {
		s := c.NextSlot()
		assert.NotNil(t, s)
		s.Key = append(s.Key, key...)
		s.Rec = &sam.Record{Name: key}
		c.Commit()
	}
	assert.EQ(t, c.Len(), 3)

	c.Sort()
	var order []string
	for _, s := range c.Slots() {
		order = append(order, string(s.Key))
	}
	assert.EQ(t, order, []string{"aaa", "bbb", "ccc"})
}

func TestChunkFull(t *testing.T) {
	c := NewChunk(1, 8)
	s := c.NextSlot()
	assert.NotNil(t, s)
	s.Rec = &sam.Record{Name: "r"}
	c.Commit()
	assert.Nil(t, c.NextSlot())
}

func TestChunkRecycle(t *testing.T) {
	c := NewChunk(2, 8)
	s := c.NextSlot()
	s.Key = append(s.Key, "k"...)
	s.Rec = sam.GetFromFreePool()
	c.Commit()

	c.Recycle()
	assert.EQ(t, c.Len(), 0)
	// Key buffers survive recycling; the next fill reuses them.
	s = c.NextSlot()
	assert.EQ(t, len(s.Key), 0)
	assert.Nil(t, s.Rec)
}

func TestChunkQueue(t *testing.T) {
	q := NewChunkQueue(2)
	_, ok := q.TryGet()
	assert.True(t, !ok)

	a, b := NewChunk(1, 8), NewChunk(1, 8)
	q.Add(a)
	q.Add(b)
	assert.EQ(t, q.Len(), 2)
	assert.True(t, q.Get() == a)
	got, ok := q.TryGet()
	assert.True(t, ok)
	assert.True(t, got == b)
}

func TestChunkQueueBlocksUntilAdd(t *testing.T) {
	q := NewChunkQueue(1)
	c := NewChunk(1, 8)
	done := make(chan *Chunk)
	go func() { done <- q.Get() }()
	q.Add(c)
	assert.True(t, <-done == c)
}

func TestWorkPoolRunsAll(t *testing.T) {
	p := NewWorkPool(4, 4)
	defer p.Stop()
	var n int64
	for i := 0; i < 100; i++ {
		p.Add(func() { atomic.AddInt64(&n, 1) })
	}
	p.Wait()
	assert.EQ(t, atomic.LoadInt64(&n), int64(100))
}

func TestWorkPoolWaitIsReusable(t *testing.T) {
	p := NewWorkPool(2, 2)
	defer p.Stop()
	var n int64
	p.Add(func() { atomic.AddInt64(&n, 1) })
	p.Wait()
	assert.EQ(t, atomic.LoadInt64(&n), int64(1))
	p.Add(func() { atomic.AddInt64(&n, 1) })
	p.Wait()
	assert.EQ(t, atomic.LoadInt64(&n), int64(2))
}

func TestWorkPoolStopIdempotent(t *testing.T) {
	p := NewWorkPool(1, 1)
	p.Add(func() {})
	p.Wait()
	p.Stop()
	p.Stop()
}
