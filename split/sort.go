package split

import (
	"io"
	"sync"

	"github.com/chenyenchung/scbamsplit/bamio"
	"github.com/chenyenchung/scbamsplit/pool"
	"github.com/chenyenchung/scbamsplit/sortkey"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// pipeline bundles the state shared by the sort, merge, and dedup stages of
// one run. The fill loop and the dedup walk are single-threaded; only the
// sort-and-export tasks and merge tasks run concurrently, and they touch
// nothing here but the immutable config and headers.
type pipeline struct {
	cfg       *Config
	in        *bamio.Reader
	header    *sam.Header // input header, shared by final outputs
	runHeader *sam.Header // clone with sort order reset, for temp files
	tmpdir    string
	keyb      sortkey.Builder

	// Scratch buffers for the single-threaded fill and dedup loops.
	cbBuf []byte
	ubBuf []byte
}

func newPipeline(cfg *Config, in *bamio.Reader, tmpdir string) *pipeline {
	runHeader := in.Header().Clone()
	runHeader.SortOrder = sam.UnknownOrder
	return &pipeline{
		cfg:       cfg,
		in:        in,
		header:    in.Header(),
		runHeader: runHeader,
		tmpdir:    tmpdir,
		keyb:      sortkey.Builder{NameWidth: cfg.NameWidth},
		cbBuf:     make([]byte, 0, cfg.CB.Length),
		ubBuf:     make([]byte, 0, cfg.UB.Length),
	}
}

// fillChunk reads input records into c until the chunk is full or the input
// ends. Records missing a CBC or UMI, or mapping below the MAPQ threshold,
// are dropped. Each kept record gets its sort key built into the slot and
// attached as an aux tag. An oversized query name is a configuration error
// and aborts the fill.
func (p *pipeline) fillChunk(c *pool.Chunk) (eof bool, err error) {
	for c.Len() < c.Cap() {
		rec, rerr := p.in.Read()
		if rerr == io.EOF {
			return true, nil
		}
		if rerr != nil {
			return false, errors.E("split: read input record", rerr)
		}
		cb, okCB := p.cfg.CB.Extract(rec, p.cbBuf[:0])
		p.cbBuf = cb[:0]
		ub, okUB := p.cfg.UB.Extract(rec, p.ubBuf[:0])
		p.ubBuf = ub[:0]
		if !okCB || !okUB || int(rec.MapQ) < p.cfg.MapQ {
			sam.PutInFreePool(rec)
			continue
		}
		slot := c.NextSlot()
		slot.Key, err = p.keyb.Append(slot.Key, cb, ub, rec)
		if err != nil {
			sam.PutInFreePool(rec)
			return false, err
		}
		if aerr := sortkey.Attach(rec, slot.Key); aerr != nil {
			log.Error.Printf("split: attach sort key to %s: %v", rec.Name, aerr)
			sam.PutInFreePool(rec)
			return false, aerr
		}
		slot.Rec = rec
		c.Commit()
	}
	return false, nil
}

// exportChunk sorts c in place and writes it as the id-th run file.
func (p *pipeline) exportChunk(c *pool.Chunk, id int) error {
	c.Sort()
	name := runFileName(p.tmpdir, id)
	w, err := bamio.Create(name, p.runHeader, 1)
	if err != nil {
		return err
	}
	for _, s := range c.Slots() {
		if werr := w.Write(s.Rec); werr != nil {
			w.Close()
			return errors.E("split: write run file "+name, werr)
		}
	}
	if cerr := w.Close(); cerr != nil {
		return errors.E("split: close run file "+name, cerr)
	}
	return nil
}

// sortStage runs the parallel chunk sort: fill chunks from the input, hand
// each to the work pool to sort and export, and recycle chunks through the
// free/filled queue pair. Memory stays bounded because only Threads chunks
// exist and the pool's queue blocks the filler when the workers fall behind.
// Task failures are recorded but the stage drains every outstanding task
// before reporting them.
func (p *pipeline) sortStage() error {
	nchunks := p.cfg.Threads
	free := pool.NewChunkQueue(nchunks + 1)
	filled := pool.NewChunkQueue(nchunks + 1)
	for i := 0; i < nchunks; i++ {
		free.Add(pool.NewChunk(p.cfg.ChunkSize, p.cfg.KeySize))
	}
	wp := pool.NewWorkPool(p.cfg.Threads, p.cfg.Threads)
	defer wp.Stop()

	var (
		mu       sync.Mutex
		taskErr  error
		chunkNum int
	)
	for {
		var c *pool.Chunk
		if cc, ok := free.TryGet(); ok {
			c = cc
		} else {
			c = filled.Get()
		}
		eof, err := p.fillChunk(c)
		if c.Len() > 0 && err == nil {
			chunkNum++
			id, cc := chunkNum, c
			log.Debug.Printf("split: chunk %d filled with %d reads", id, cc.Len())
			wp.Add(func() {
				if werr := p.exportChunk(cc, id); werr != nil {
					log.Error.Printf("split: sort task for chunk %d: %v", id, werr)
					mu.Lock()
					if taskErr == nil {
						taskErr = werr
					}
					mu.Unlock()
				}
				cc.Recycle()
				filled.Add(cc)
			})
		} else {
			c.Recycle()
			filled.Add(c)
		}
		if err != nil {
			wp.Wait()
			return err
		}
		if eof {
			break
		}
	}
	wp.Wait()
	log.Printf("split: sorted %d chunks", chunkNum)
	mu.Lock()
	defer mu.Unlock()
	return taskErr
}
