package split

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
)

// Temporary file naming. Run files sort before any merge output
// ("chunk" < "merged"), and the per-round letter keeps each round's outputs
// ahead of the next round's, so listing the directory by name always pairs
// the oldest survivors first.
const (
	runPrefix    = "chunk"
	mergedPrefix = "merged"
	sortedName   = "sorted.bam"
)

// createTempDir makes <prefix>tmp/ and returns its path.
func createTempDir(prefix string) (string, error) {
	dir := prefix + "tmp/"
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errors.E("split: create temp directory "+dir, err)
	}
	return dir, nil
}

// runFileName names the id-th sorted chunk in dir.
func runFileName(dir string, id int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%05d.bam", runPrefix, id))
}

// mergedFileName names the idx-th merge output of a round. letter rotates
// a..z per round.
func mergedFileName(dir string, letter byte, idx int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%c%05d.bam", mergedPrefix, letter, idx))
}

// listRuns returns the file names in dir, dot entries skipped, sorted by
// name. Directory enumeration order is never trusted.
func listRuns(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.E("split: list temp directory "+dir, err)
	}
	var names []string
	for _, e := range ents {
		if strings.HasPrefix(e.Name(), ".") || e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// removeTempDir removes the temp directory and anything left in it.
func removeTempDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return errors.E("split: remove temp directory "+dir, err)
	}
	return nil
}
