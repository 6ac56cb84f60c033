// Package htstestutil builds the small synthetic alignment files the
// scbamsplit tests exercise the pipeline with.
package htstestutil

import (
	"testing"

	"github.com/chenyenchung/scbamsplit/bamio"
	"github.com/grailbio/hts/sam"
)

// Read describes one synthetic alignment record. An empty CB or UB means
// the corresponding aux tag is absent. Flags default to a mapped primary
// alignment.
type Read struct {
	Name  string
	MapQ  byte
	Flags sam.Flags
	CB    string
	UB    string
}

// NewHeader returns a reference-free header.
func NewHeader(t *testing.T) *sam.Header {
	t.Helper()
	h, err := sam.NewHeader(nil, nil)
	if err != nil {
		t.Fatalf("htstestutil: new header: %v", err)
	}
	return h
}

// NewRecord materialises r as a sam.Record.
func NewRecord(t *testing.T, r Read) *sam.Record {
	t.Helper()
	var aux []sam.Aux
	for _, tag := range []struct {
		tag sam.Tag
		val string
	}{
		{sam.Tag{'C', 'B'}, r.CB},
		{sam.Tag{'U', 'B'}, r.UB},
	} {
		if tag.val == "" {
			continue
		}
		a, err := sam.NewAux(tag.tag, tag.val)
		if err != nil {
			t.Fatalf("htstestutil: new aux %v: %v", tag.tag, err)
		}
		aux = append(aux, a)
	}
	rec, err := sam.NewRecord(r.Name, nil, nil, -1, -1, 0, r.MapQ,
		nil, []byte("ACGT"), []byte{30, 30, 30, 30}, aux)
	if err != nil {
		t.Fatalf("htstestutil: new record %s: %v", r.Name, err)
	}
	rec.Flags = r.Flags
	return rec
}

// WriteBAM writes reads to a BAM file at path under a reference-free
// header.
func WriteBAM(t *testing.T, path string, reads []Read) {
	t.Helper()
	w, err := bamio.Create(path, NewHeader(t), 1)
	if err != nil {
		t.Fatalf("htstestutil: create %s: %v", path, err)
	}
	for _, r := range reads {
		if err := w.Write(NewRecord(t, r)); err != nil {
			t.Fatalf("htstestutil: write %s: %v", r.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("htstestutil: close %s: %v", path, err)
	}
}

// ReadBAM returns every record in the BAM file at path.
func ReadBAM(t *testing.T, path string) []*sam.Record {
	t.Helper()
	r, err := bamio.Open(path)
	if err != nil {
		t.Fatalf("htstestutil: open %s: %v", path, err)
	}
	defer r.Close()
	recs, err := bamio.ReadAll(r)
	if err != nil {
		t.Fatalf("htstestutil: read %s: %v", path, err)
	}
	return recs
}

// Names lists the query names of recs in order.
func Names(recs []*sam.Record) []string {
	names := make([]string, len(recs))
	for i, rec := range recs {
		names[i] = rec.Name
	}
	return names
}
