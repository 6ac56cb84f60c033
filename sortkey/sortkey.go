// Package sortkey builds the composite key the external sort orders records
// by. The key concatenates, in order: cell barcode, UMI, a primary-mapping
// byte, mapping quality, and the space-padded query name. Byte-wise
// comparison of two keys groups reads of the same molecule together and puts
// the record to keep — the primary alignment with the highest MAPQ — first
// within each group.
package sortkey

import (
	"bytes"
	"fmt"

	"github.com/grailbio/hts/sam"
)

// Tag is the aux tag the key is attached to, so downstream passes can read
// it back from disk instead of recomputing it.
var Tag = sam.Tag{'S', 'K'}

// DefaultKeySize bounds the total key length; DefaultNameWidth is the query
// name field width when -r/--rn-length is not given.
const (
	DefaultKeySize   = 512
	DefaultNameWidth = 70
)

// NameTooLongError reports a query name wider than the configured field.
type NameTooLongError struct {
	Name     string
	Observed int
	Width    int
}

func (e *NameTooLongError) Error() string {
	return fmt.Sprintf("sortkey: query name %q is %d bytes wide; raise -r/--rn-length to at least %d",
		e.Name, e.Observed, e.Observed+1)
}

// Builder appends keys with a fixed query-name field width.
type Builder struct {
	NameWidth int
}

// PrimaryByte returns '1' for a mapped primary alignment (flag bits 0x4 and
// 0x100 both clear) and '2' for everything else.
func PrimaryByte(rec *sam.Record) byte {
	if rec.Flags&sam.Unmapped == 0 && rec.Flags&sam.Secondary == 0 {
		return '1'
	}
	return '2'
}

// Append builds the key for rec from the already-extracted cb and ub and
// appends it to dst. The MAPQ segment stores 255-MAPQ as three decimal
// digits so that byte order puts the highest quality first.
func (b Builder) Append(dst []byte, cb, ub []byte, rec *sam.Record) ([]byte, error) {
	width := b.NameWidth
	if width <= 0 {
		width = DefaultNameWidth
	}
	if len(rec.Name) > width {
		return dst, &NameTooLongError{Name: rec.Name, Observed: len(rec.Name), Width: width}
	}
	dst = append(dst, cb...)
	dst = append(dst, ub...)
	dst = append(dst, PrimaryByte(rec))
	q := 255 - int(rec.MapQ)
	dst = append(dst, byte('0'+q/100), byte('0'+q/10%10), byte('0'+q%10))
	dst = append(dst, rec.Name...)
	for i := len(rec.Name); i < width; i++ {
		dst = append(dst, ' ')
	}
	return dst, nil
}

// Compare orders two keys byte-wise.
func Compare(a, b []byte) int { return bytes.Compare(a, b) }

// FromRecord reads the key previously attached to rec, or ok=false when the
// record carries none.
func FromRecord(rec *sam.Record) (string, bool) {
	aux := rec.AuxFields.Get(Tag)
	if aux == nil {
		return "", false
	}
	s, ok := aux.Value().(string)
	return s, ok
}

// Attach appends the key to rec as the Tag aux field.
func Attach(rec *sam.Record, key []byte) error {
	aux, err := sam.NewAux(Tag, string(key))
	if err != nil {
		return err
	}
	rec.AuxFields = append(rec.AuxFields, aux)
	return nil
}
