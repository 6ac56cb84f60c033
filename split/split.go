package split

import (
	"io"

	"github.com/chenyenchung/scbamsplit/bamio"
	"github.com/chenyenchung/scbamsplit/metadata"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"golang.org/x/sync/errgroup"
)

// Run executes the whole pipeline described by cfg: load the metadata, open
// the input and one output per label, then either the plain filter-and-route
// pass or the sort/merge/dedup pipeline. cfg is normalized in place.
func Run(cfg *Config) error {
	if err := cfg.Normalize(); err != nil {
		return err
	}
	log.Printf("split: reading input %s", cfg.Input)
	in, err := bamio.Open(cfg.Input)
	if err != nil {
		return err
	}
	defer in.Close()

	var tmpdir string
	if cfg.Dedup {
		if tmpdir, err = createTempDir(cfg.Prefix); err != nil {
			return err
		}
	}
	p := newPipeline(cfg, in, tmpdir)

	outHeader := p.header
	if cfg.Dedup {
		outHeader = p.sortedHeader()
	}

	buildRegistry := func() (*Registry, error) {
		log.Printf("split: loading metadata from %s", cfg.Meta)
		labels, err := metadata.Load(cfg.Meta)
		if err != nil {
			return nil, err
		}
		log.Printf("split: preparing output files under %s", cfg.Prefix)
		return NewRegistry(labels, cfg.Prefix, outHeader)
	}

	if !cfg.Dedup {
		reg, err := buildRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()
		return p.fastPath(reg)
	}

	// The barcode table and the chunk sort are independent; overlap them.
	log.Printf("split: processing %d reads per chunk on %d threads", cfg.ChunkSize, cfg.Threads)
	var (
		g   errgroup.Group
		reg *Registry
	)
	g.Go(func() (err error) {
		reg, err = buildRegistry()
		return err
	})
	g.Go(p.sortStage)
	if err := g.Wait(); err != nil {
		if reg != nil {
			reg.Close()
		}
		log.Error.Printf("split: preparation failed; please remove %s manually", tmpdir)
		return err
	}
	defer reg.Close()

	sorted, err := p.mergeStage()
	if err != nil {
		log.Error.Printf("split: merge stage failed; please remove %s manually", tmpdir)
		return err
	}
	if sorted == "" {
		log.Printf("split: no reads passed filtering; outputs are empty")
		return removeTempDir(tmpdir)
	}
	log.Printf("split: opening sorted file %s to split", sorted)
	if err := p.dedupRoute(reg, sorted); err != nil {
		log.Error.Printf("split: dedup pass failed; please remove %s manually", tmpdir)
		return err
	}
	return nil
}

// fastPath is the non-dedup mode: stream the input once, drop records whose
// barcode cannot be extracted or whose MAPQ is below threshold, and route
// the rest.
func (p *pipeline) fastPath(reg *Registry) error {
	for {
		rec, err := p.in.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		cb, ok := p.cfg.CB.Extract(rec, p.cbBuf[:0])
		p.cbBuf = cb[:0]
		if !ok || int(rec.MapQ) < p.cfg.MapQ {
			sam.PutInFreePool(rec)
			continue
		}
		if rerr := reg.Route(rec, cb); rerr != nil {
			sam.PutInFreePool(rec)
			return rerr
		}
		sam.PutInFreePool(rec)
	}
	log.Printf("split: routed %d reads", reg.Written())
	reg.LogSummary()
	return nil
}
