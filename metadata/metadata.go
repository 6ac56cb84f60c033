// Package metadata loads the caller-supplied barcode table: a CSV with a
// header line followed by <CBC>,<label> rows. The result is the read-only
// dictionary the split pipeline routes records with.
package metadata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/gzip"
)

// Load reads path and returns the CBC-to-label mapping. Files ending in .gz
// are decompressed on the fly. Every data line must have exactly two
// comma-separated fields; anything else is a parse error. Later rows win
// when a barcode repeats.
func Load(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(errors.NotExist, "metadata.Load "+path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.E("metadata.Load "+path, err)
		}
		defer zr.Close()
		r = zr
	}
	return parse(r, path)
}

func parse(r io.Reader, path string) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // field count checked per row for a precise error

	labels := make(map[string]string)
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E("metadata.Load "+path, err)
		}
		line++
		if line == 1 {
			// Header.
			continue
		}
		if len(row) != 2 {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("metadata.Load %s: line %d has %d fields (expecting 2)", path, line, len(row)))
		}
		labels[row[0]] = row[1]
	}
	if line == 0 {
		return nil, errors.E(errors.Invalid, "metadata.Load "+path+": empty file")
	}
	return labels, nil
}
