// Package bamio wraps the grailbio/hts readers and writers with the small
// surface the split pipeline needs: open an alignment file by extension,
// stream records, and write BAM output with a fixed header.
package bamio

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// Reader streams records from a SAM or BAM file. The format is chosen by
// file extension: ".sam" is read as SAM text, everything else as BAM.
type Reader struct {
	f  *os.File
	br *bam.Reader
	sr *sam.Reader
}

// Open opens path for reading. The returned Reader must be closed.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(errors.NotExist, "bamio.Open "+path, err)
	}
	r := &Reader{f: f}
	if strings.EqualFold(filepath.Ext(path), ".sam") {
		r.sr, err = sam.NewReader(f)
	} else {
		r.br, err = bam.NewReader(f, 1)
	}
	if err != nil {
		f.Close()
		return nil, errors.E("bamio.Open "+path, err)
	}
	return r, nil
}

// Header returns the SAM header of the underlying file.
func (r *Reader) Header() *sam.Header {
	if r.sr != nil {
		return r.sr.Header()
	}
	return r.br.Header()
}

// Read returns the next record, or io.EOF after the last one. Records come
// from the sam free pool; callers release them with sam.PutInFreePool once
// they no longer reference them.
func (r *Reader) Read() (*sam.Record, error) {
	if r.sr != nil {
		return r.sr.Read()
	}
	return r.br.Read()
}

// Close releases the reader and the underlying file.
func (r *Reader) Close() error {
	var err error
	if r.br != nil {
		err = r.br.Close()
	}
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Writer writes BAM records with a header fixed at creation time.
type Writer struct {
	f  *os.File
	bw *bam.Writer
}

// Create creates (truncating) a BAM file at path and writes h to it.
// wc is the bgzf write concurrency; values below 1 mean single-threaded.
func Create(path string, h *sam.Header, wc int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.E("bamio.Create "+path, err)
	}
	if wc < 1 {
		wc = 1
	}
	bw, err := bam.NewWriter(f, h, wc)
	if err != nil {
		f.Close()
		return nil, errors.E("bamio.Create "+path, err)
	}
	return &Writer{f: f, bw: bw}, nil
}

// Write appends one record.
func (w *Writer) Write(rec *sam.Record) error {
	return w.bw.Write(rec)
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	err := w.bw.Close()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadAll drains r and returns every remaining record. It is intended for
// small files; the split pipeline proper never materialises a whole file.
func ReadAll(r *Reader) ([]*sam.Record, error) {
	var recs []*sam.Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}

// TagString returns the string value of a Z-typed aux tag, or ok=false when
// the tag is absent or not a string.
func TagString(rec *sam.Record, tag sam.Tag) (string, bool) {
	aux := rec.AuxFields.Get(tag)
	if aux == nil {
		return "", false
	}
	s, ok := aux.Value().(string)
	return s, ok
}

// DropTag removes every aux field carrying tag from rec.
func DropTag(rec *sam.Record, tag sam.Tag) {
	kept := rec.AuxFields[:0]
	for _, aux := range rec.AuxFields {
		if aux.Tag() != tag {
			kept = append(kept, aux)
		}
	}
	rec.AuxFields = kept
}
