// Package split implements the demultiplexing pipeline: a bounded-memory
// external sort over reads keyed by barcode, a k-way merge of the sorted
// runs, and a dedup-and-route pass that writes survivors to one BAM per
// metadata label. Without dedup the pipeline degenerates to a single
// filter-and-route pass over the input.
package split

import (
	"fmt"
	"strings"

	"github.com/chenyenchung/scbamsplit/barcode"
	"github.com/chenyenchung/scbamsplit/sortkey"
	"github.com/grailbio/base/errors"
)

// chunkBase is the record count one GiB of budget buys a single worker.
const chunkBase = 400000

// Config carries every knob the pipeline reads. Run calls Normalize on it
// first; after that the config is immutable and shared freely across
// workers.
type Config struct {
	Input  string // alignment file to demultiplex
	Meta   string // CBC,label CSV
	Prefix string // output directory prefix, '/'-terminated after Normalize

	MapQ     int  // minimum mapping quality, 0..254
	Dedup    bool // run the sort/merge/dedup pipeline
	StripKey bool // drop the sort-key aux tag from final outputs

	CB *barcode.TagMeta
	UB *barcode.TagMeta

	NameWidth int // padded query-name width in the sort key
	KeySize   int // key buffer capacity

	MemGiB  int // memory budget scale
	Threads int // sort/merge worker count

	// ChunkSize overrides the derived records-per-chunk count when set;
	// tests use this to force multi-chunk runs on tiny inputs.
	ChunkSize int
}

// Normalize fills defaults, derives the chunk size, and validates the
// result.
func (c *Config) Normalize() error {
	if c.Input == "" || c.Meta == "" {
		return errors.E(errors.Invalid, "split: input file and metadata are both required")
	}
	if c.Prefix == "" {
		c.Prefix = "./"
	}
	if !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	if c.MapQ < 0 {
		c.MapQ = 0
	}
	if c.MapQ > 254 {
		return errors.E(errors.Invalid,
			fmt.Sprintf("split: MAPQ threshold %d rejected; the maximum valid MAPQ is 255, so no read could pass", c.MapQ))
	}
	if c.CB == nil {
		c.CB = barcode.NewCB()
	}
	if c.UB == nil {
		c.UB = barcode.NewUB()
	}
	if c.NameWidth <= 0 {
		c.NameWidth = sortkey.DefaultNameWidth
	}
	if c.KeySize <= 0 {
		c.KeySize = sortkey.DefaultKeySize
	}
	if c.MemGiB < 1 {
		c.MemGiB = 1
	}
	if c.Threads < 1 {
		c.Threads = 1
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = chunkBase * c.MemGiB / c.Threads
		if c.ChunkSize < 1 {
			c.ChunkSize = 1
		}
	}
	need := c.CB.Length + c.UB.Length + 1 + 3 + c.NameWidth
	if need > c.KeySize {
		return errors.E(errors.Invalid,
			fmt.Sprintf("split: sort key needs %d bytes (CBC %d + UMI %d + flag 1 + MAPQ 3 + name %d) but the key size is %d",
				need, c.CB.Length, c.UB.Length, c.NameWidth, c.KeySize))
	}
	return nil
}
