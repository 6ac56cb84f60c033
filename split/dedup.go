package split

import (
	"io"
	"os"

	"github.com/chenyenchung/scbamsplit/bamio"
	"github.com/chenyenchung/scbamsplit/sortkey"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// dedupRoute streams the fully merged file and emits, for each distinct
// (CBC, UMI) pair, the first query name encountered — the primary alignment
// with the highest MAPQ, by construction of the sort key — together with
// every other record carrying that same name (its secondary alignments).
// Emitted records are routed to their label's output. The sorted file and
// the temp directory are removed on success.
//
// Unlike the sort stage, an extraction miss here is fatal: every record in
// the sorted file already passed the fill filter, so a miss means the file
// is not what this stage was promised.
func (p *pipeline) dedupRoute(reg *Registry, sortedPath string) error {
	r, err := bamio.Open(sortedPath)
	if err != nil {
		return err
	}
	defer r.Close()

	var curCB, curUB, keep string
	first := true
	for {
		rec, rerr := r.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return errors.E("split: read sorted file", rerr)
		}
		cb, ok := p.cfg.CB.Extract(rec, p.cbBuf[:0])
		p.cbBuf = cb[:0]
		if !ok {
			return errors.E(errors.Invalid, "split: cannot retrieve cell barcode from the sorted file (read "+rec.Name+")")
		}
		ub, ok := p.cfg.UB.Extract(rec, p.ubBuf[:0])
		p.ubBuf = ub[:0]
		if !ok {
			return errors.E(errors.Invalid, "split: cannot retrieve UMI from the sorted file (read "+rec.Name+")")
		}

		if first || string(cb) != curCB || string(ub) != curUB {
			first = false
			curCB, curUB = string(cb), string(ub)
			keep = rec.Name
		}
		if rec.Name != keep {
			sam.PutInFreePool(rec)
			continue
		}
		if p.cfg.StripKey {
			bamio.DropTag(rec, sortkey.Tag)
		}
		if err := reg.Route(rec, cb); err != nil {
			sam.PutInFreePool(rec)
			return errors.E("split: write deduplicated read", err)
		}
		sam.PutInFreePool(rec)
	}

	if err := os.Remove(sortedPath); err != nil {
		return errors.E("split: remove sorted file", err)
	}
	if err := removeTempDir(p.tmpdir); err != nil {
		return err
	}
	log.Printf("split: dedup pass kept %d reads", reg.Written())
	reg.LogSummary()
	return nil
}
