package split

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chenyenchung/scbamsplit/bamio"
	"github.com/chenyenchung/scbamsplit/sortkey"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
)

// mergeFanIn is how many run files one merge task consumes. Open
// descriptors per task stay at mergeFanIn+1.
const mergeFanIn = 8

// mergeStage repeatedly merges the files in the temp directory, mergeFanIn
// at a time in name order, until a single merge product remains, then
// renames it to sorted.bam and returns its path. Merge tasks within a round
// run in parallel; the name ordering of run and merge files keeps earlier
// rounds' output merging together before mixing with later rounds'. When the
// sort stage kept nothing at all the returned path is empty.
func (p *pipeline) mergeStage() (string, error) {
	round := 0
	for {
		names, err := listRuns(p.tmpdir)
		if err != nil {
			return "", err
		}
		if len(names) == 0 {
			return "", nil
		}
		// A lone run file still goes through one merge pass so the final
		// file carries the sorted-header marker.
		if len(names) == 1 && !strings.HasPrefix(names[0], runPrefix) {
			final := filepath.Join(p.tmpdir, sortedName)
			if err := os.Rename(filepath.Join(p.tmpdir, names[0]), final); err != nil {
				return "", errors.E("split: rename final merge output", err)
			}
			return final, nil
		}

		var batches [][]string
		for len(names) > 0 {
			n := mergeFanIn
			if n > len(names) {
				n = len(names)
			}
			batches = append(batches, names[:n])
			names = names[n:]
		}
		// A single batch produces the fully merged file; its header gets
		// the sorted marker.
		finalRound := len(batches) == 1
		letter := byte('a' + round%26)
		log.Printf("split: merge round %d: %d batches", round+1, len(batches))

		jobs := make(chan int, len(batches))
		for i := range batches {
			jobs <- i
		}
		close(jobs)
		workers := p.cfg.Threads
		if workers > len(batches) {
			workers = len(batches)
		}
		err = traverse.Each(workers, func(_ int) error {
			for i := range jobs {
				if merr := p.mergeBatch(batches[i], letter, i, finalRound); merr != nil {
					return merr
				}
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		round++
	}
}

// sortedHeader clones the input header and marks it as ordered by the
// barcode sort key. The SO field only admits the standard values, so the
// marker rides in a comment line.
func (p *pipeline) sortedHeader() *sam.Header {
	h := p.header.Clone()
	h.SortOrder = sam.UnknownOrder
	h.Comments = append(h.Comments, "scbamsplit: records ordered by the SK aux tag")
	return h
}

// mergeBatch k-way merges the named run files into merged<letter><idx>.bam,
// smallest sort key first with ties broken by input position, and deletes
// the inputs on success.
func (p *pipeline) mergeBatch(names []string, letter byte, idx int, finalRound bool) error {
	type input struct {
		r    *bamio.Reader
		rec  *sam.Record
		key  string
		done bool
	}
	ins := make([]*input, len(names))
	defer func() {
		for _, in := range ins {
			if in != nil && in.r != nil {
				in.r.Close()
			}
		}
	}()

	advance := func(in *input) error {
		if in.rec != nil {
			sam.PutInFreePool(in.rec)
			in.rec = nil
		}
		rec, err := in.r.Read()
		if err == io.EOF {
			in.done = true
			return nil
		}
		if err != nil {
			return errors.E("split: read during merge", err)
		}
		key, ok := sortkey.FromRecord(rec)
		if !ok {
			return errors.E(errors.Invalid, "split: run-file record "+rec.Name+" has no sort key")
		}
		in.rec, in.key = rec, key
		return nil
	}

	for i, name := range names {
		r, err := bamio.Open(filepath.Join(p.tmpdir, name))
		if err != nil {
			return err
		}
		ins[i] = &input{r: r}
		if err := advance(ins[i]); err != nil {
			return err
		}
	}

	hdr := p.runHeader
	if finalRound {
		hdr = p.sortedHeader()
	}
	out := mergedFileName(p.tmpdir, letter, idx)
	log.Debug.Printf("split: merging %d files into %s", len(names), filepath.Base(out))
	w, err := bamio.Create(out, hdr, 1)
	if err != nil {
		return err
	}
	for {
		best := -1
		for i, in := range ins {
			if in.done {
				continue
			}
			if best < 0 || in.key < ins[best].key {
				best = i
			}
		}
		if best < 0 {
			break
		}
		if err := w.Write(ins[best].rec); err != nil {
			w.Close()
			return errors.E("split: write merge output "+out, err)
		}
		if err := advance(ins[best]); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return errors.E("split: close merge output "+out, err)
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(p.tmpdir, name)); err != nil {
			return errors.E("split: remove merged input "+name, err)
		}
	}
	return nil
}
