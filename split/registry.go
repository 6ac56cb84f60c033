package split

import (
	"sort"
	"strings"

	"github.com/chenyenchung/scbamsplit/bamio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// Registry maps cell barcodes to labels and labels to output writers. One
// writer is opened per distinct label when the registry is built; a barcode
// whose label has no writer is dropped silently, because the metadata is
// authoritative about what should be kept. Writes happen only on the
// single-threaded route paths, so no locking is needed.
type Registry struct {
	labels  map[string]string
	outs    map[string]*bamio.Writer
	counts  map[string]int64
	written int64
}

// sanitizeLabel makes a label safe to use as a file name component.
func sanitizeLabel(label string) string {
	return strings.ReplaceAll(label, "/", "-")
}

// NewRegistry opens <prefix><sanitised-label>.bam for every distinct label
// in labels and writes h to each. On error the writers opened so far are
// closed and removed from disk is left to the caller.
func NewRegistry(labels map[string]string, prefix string, h *sam.Header) (*Registry, error) {
	g := &Registry{
		labels: labels,
		outs:   make(map[string]*bamio.Writer),
		counts: make(map[string]int64),
	}
	for _, label := range labels {
		if _, ok := g.outs[label]; ok {
			continue
		}
		path := prefix + sanitizeLabel(label) + ".bam"
		w, err := bamio.Create(path, h, 1)
		if err != nil {
			g.Close()
			return nil, err
		}
		g.outs[label] = w
	}
	return g, nil
}

// Route writes rec to the output for cb's label. Barcodes absent from the
// metadata, and labels without a writer, drop the record without error.
func (g *Registry) Route(rec *sam.Record, cb []byte) error {
	label, ok := g.labels[string(cb)]
	if !ok {
		return nil
	}
	w, ok := g.outs[label]
	if !ok {
		return nil
	}
	if err := w.Write(rec); err != nil {
		return err
	}
	g.counts[label]++
	g.written++
	return nil
}

// Written returns the number of records routed so far.
func (g *Registry) Written() int64 { return g.written }

// LogSummary emits one info line per label with its routed-record count.
func (g *Registry) LogSummary() {
	labels := make([]string, 0, len(g.outs))
	for label := range g.outs {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		log.Printf("split: %s.bam: %d reads", sanitizeLabel(label), g.counts[label])
	}
}

// Close closes every output writer, returning the first error.
func (g *Registry) Close() error {
	var first error
	for label, w := range g.outs {
		if err := w.Close(); err != nil && first == nil {
			first = err
			log.Error.Printf("split: closing output for label %s: %v", label, err)
		}
	}
	g.outs = map[string]*bamio.Writer{}
	return first
}
